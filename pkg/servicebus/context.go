package servicebus

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

/*
The IncomingMessageContext holds a received message and the callbacks of the transport that
delivered it. It implements saga.ConsumeContext, so it can be sent to saga repositories directly.
*/
type IncomingMessageContext struct {
	Headers       map[string]interface{}
	Origin        string
	Payload       []byte
	Type          string
	CorrelationId string
	MessageId     string
	Timestamp     time.Time
	Priority      uint8
	Ack           func()
	Retry         func()
	Discard       func()
	Fail          func()
}

func (context *IncomingMessageContext) validate() error {

	if context.Origin == "" {
		return errors.New("Message has no Origin.")
	}
	if context.Type == "" {
		return errors.New("Message has no Type.")
	}
	if context.MessageId == "" {
		return errors.New("Message has no MessageId.")
	}
	if context.CorrelationId == "" {
		return errors.New("Message has no CorrelationId.")
	}
	return nil

}

/*
Bind the message payload to a struct object
*/
func (context *IncomingMessageContext) Bind(obj interface{}) error {
	err := json.Unmarshal(context.Payload, obj)
	if err != nil {
		return err
	}
	return nil
}

//Correlation id of the message as saga key. Messages with an empty or non UUID correlation id have none.
func (context *IncomingMessageContext) CorrelationID() (uuid.UUID, bool) {
	if context.CorrelationId == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(context.CorrelationId)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (context *IncomingMessageContext) MessageType() string {
	return context.Type
}

func (context *IncomingMessageContext) ack() {
	if context.Ack != nil {
		context.Ack()
	}
}

func (context *IncomingMessageContext) retry() {
	if context.Retry != nil {
		context.Retry()
	}
}

func (context *IncomingMessageContext) discard() {
	if context.Discard != nil {
		context.Discard()
	}
}

func (context *IncomingMessageContext) fail() {
	if context.Fail != nil {
		context.Fail()
		return
	}
	context.discard()
}
