package feed

import (
	"context"
	"fmt"

	"github.com/rsclarke/beehive/internal/messages"
	"github.com/rsclarke/beehive/internal/models"
)

// Publisher sends a payload on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes SESSION and DELETED_DUE_TO_MERGE frames to the processed
// sessions subject.
type NATSSink struct {
	pub     Publisher
	subject string
}

// NewNATSSink creates a sink publishing on subject.
func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: subject}
}

func (s *NATSSink) ID() string { return "nats" }

func (s *NATSSink) OnSessionClassified(_ context.Context, sess *models.Session) error {
	data, err := messages.FormatSession(sess)
	if err != nil {
		return err
	}
	if err := s.pub.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish session: %w", err)
	}
	return nil
}

func (s *NATSSink) OnSessionsMerged(_ context.Context, decoyID, baitID string) error {
	if err := s.pub.Publish(s.subject, messages.FormatMerge(decoyID, baitID)); err != nil {
		return fmt.Errorf("publish merge: %w", err)
	}
	return nil
}
