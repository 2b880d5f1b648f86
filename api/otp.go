package api

import (
	"net/http"
	"strings"

	"github.com/kilianp07/wastedispatch/core/queue"
)

// otpSMSAttempts bounds OTP delivery retries; later sends would carry an
// expired code.
const otpSMSAttempts = 2

type otpRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code,omitempty"`
}

func (h *handlers) issueOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decode(r, &req); err != nil || strings.TrimSpace(req.Phone) == "" {
		writeError(w, http.StatusBadRequest, "phone required")
		return
	}
	phone := strings.TrimSpace(req.Phone)
	code, err := h.OTP.Issue(r.Context(), phone)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// The code only leaves through the SMS job.
	_, err = h.Queue.Enqueue(r.Context(), queue.KindNotifySMS, queue.NotifyPayload{
		Target:  phone,
		Message: "Your verification code is " + code,
	}, queue.WithMaxAttempts(otpSMSAttempts))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *handlers) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := decode(r, &req); err != nil || strings.TrimSpace(req.Phone) == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "phone and code required")
		return
	}
	if err := h.OTP.Verify(r.Context(), strings.TrimSpace(req.Phone), strings.TrimSpace(req.Code)); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}
