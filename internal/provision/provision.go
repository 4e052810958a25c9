package provision

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

const (
	// DefaultPriority matches the high priority lane of the queue service.
	DefaultPriority = "H"

	// DefaultTTL is how long a provision stays valid once pushed.
	DefaultTTL = 24 * time.Hour

	letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// QueueRef names one destination queue of a provision.
type QueueRef struct {
	ID string `json:"id"`
}

// Provision is the message body pushed into the queue service.
// It is never mutated after Generate returns it.
type Provision struct {
	Payload        string     `json:"payload"`
	Priority       string     `json:"priority"`
	Queues         []QueueRef `json:"queue"`
	ExpirationDate int64      `json:"expirationDate"`
}

// Len returns the payload size in bytes.
func (p Provision) Len() int {
	return len(p.Payload)
}

// JSON encodes the provision the way the queue service expects it on POST /trans.
func (p Provision) JSON() ([]byte, error) {
	return json.Marshal(p)
}

// QueueName returns the id of the i-th destination queue (q0, q1, ...).
func QueueName(i int) string {
	return fmt.Sprintf("q%d", i)
}

// Generate builds a provision addressed to count queues with a payload of size bytes.
func Generate(count, size int) (Provision, error) {
	if count < 1 {
		return Provision{}, fmt.Errorf("provision: queue count must be positive, got %d", count)
	}
	if size < 0 {
		return Provision{}, fmt.Errorf("provision: payload size must not be negative, got %d", size)
	}

	queues := make([]QueueRef, count)
	for i := range queues {
		queues[i] = QueueRef{ID: QueueName(i)}
	}

	return Provision{
		Payload:        randomString(size),
		Priority:       DefaultPriority,
		Queues:         queues,
		ExpirationDate: time.Now().Add(DefaultTTL).Unix(),
	}, nil
}

func randomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}
