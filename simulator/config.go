package main

import (
	"errors"
	"time"

	"github.com/kilianp07/wastedispatch/core/model"
)

// Config holds parameters for the simulator.
type Config struct {
	Broker       string
	TopicPrefix  string
	Count        int
	Organization string
	Center       model.Point
	SpreadM      float64
	SpeedMps     float64
	Interval     time.Duration
	DutyFile     string
	// APIURL and JWTSecret enable the start/complete round trip through
	// the REST API once a collector is assigned.
	APIURL      string
	JWTSecret   string
	HandleDelay time.Duration
	DropRate    float64
	Verbose     bool
}

func (c *Config) Validate() error {
	var errs []error
	if c.Broker == "" {
		errs = append(errs, errors.New("broker is required"))
	}
	if c.Count <= 0 {
		errs = append(errs, errors.New("count must be positive"))
	}
	if c.Interval <= 0 {
		errs = append(errs, errors.New("interval must be positive"))
	}
	if err := c.Center.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.DropRate < 0 || c.DropRate > 1 {
		errs = append(errs, errors.New("drop-rate must be within [0,1]"))
	}
	if c.APIURL != "" && c.JWTSecret == "" {
		errs = append(errs, errors.New("jwt-secret is required with api-url"))
	}
	return errors.Join(errs...)
}
