package main

import (
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// mqttClientFactory is swapped in tests.
var mqttClientFactory = realMQTTClient

// realMQTTClient connects to broker. The broker publishes will, retained, on
// willTopic if the connection drops without a clean disconnect.
func realMQTTClient(broker, clientID, willTopic string, will []byte) (paho.Client, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(10 * time.Second).
		SetCleanSession(true)
	opts.AutoReconnect = true
	if willTopic != "" {
		opts.SetBinaryWill(willTopic, will, 1, true)
	}
	cli := paho.NewClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return cli, nil
}
