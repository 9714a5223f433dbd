package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskSendMessage = "followups.send_message"

const TaskSendEmail = "followups.send_email"

type SendMessagePayload struct {
	Phone string `json:"phone"`
	Body  string `json:"body"`
	Ref   string `json:"ref"`
}

type SendEmailPayload struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Ref     string `json:"ref"`
}

func NewSendMessageTask(payload SendMessagePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSendMessage, data), nil
}

func ParseSendMessagePayload(task *asynq.Task) (SendMessagePayload, error) {
	var payload SendMessagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SendMessagePayload{}, err
	}
	return payload, nil
}

func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSendEmail, data), nil
}

func ParseSendEmailPayload(task *asynq.Task) (SendEmailPayload, error) {
	var payload SendEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SendEmailPayload{}, err
	}
	return payload, nil
}
