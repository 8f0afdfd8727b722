package queue

import (
	"context"
	"encoding/json"
	"time"
)

// MarkedEvent is the payload of a TypeMarked message.
type MarkedEvent struct {
	CourseID string    `json:"course_id"`
	Date     time.Time `json:"date"`
	Marked   int       `json:"marked"`
	Failed   int       `json:"failed"`
}

// ContactRequest is the payload of a TypeContact message.
type ContactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// Notifier publishes attendance events onto a Queue. It satisfies the
// attendance service's Notifier port.
type Notifier struct {
	q Queue
}

// NewNotifier wraps a queue.
func NewNotifier(q Queue) *Notifier {
	return &Notifier{q: q}
}

// AttendanceMarked enqueues a marked event for the worker.
func (n *Notifier) AttendanceMarked(ctx context.Context, courseID string, date time.Time, marked, failed int) error {
	body, err := json.Marshal(MarkedEvent{CourseID: courseID, Date: date, Marked: marked, Failed: failed})
	if err != nil {
		return err
	}
	return n.q.Publish(ctx, Message{Type: TypeMarked, Body: body})
}

// PublishContact enqueues a contact-form submission for delivery.
func (n *Notifier) PublishContact(ctx context.Context, req ContactRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return n.q.Publish(ctx, Message{Type: TypeContact, Body: body})
}
