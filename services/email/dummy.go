package emailsvc

import (
	"sync"

	"github.com/trezcool/mahudhurio/core"
)

// DummyService renders and collects messages for test inspection.
type DummyService struct {
	conf *core.Config

	mu   sync.Mutex
	sent []*core.EmailMessage
}

var _ core.EmailService = (*DummyService)(nil)

func NewDummyService(conf *core.Config) *DummyService {
	return &DummyService{conf: conf}
}

func (svc *DummyService) SendMessages(messages ...*core.EmailMessage) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	for _, msg := range messages {
		_ = msg.Render(svc.conf)
		svc.sent = append(svc.sent, msg)
	}
}

// Sent returns the messages sent so far.
func (svc *DummyService) Sent() []*core.EmailMessage {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	out := make([]*core.EmailMessage, len(svc.sent))
	copy(out, svc.sent)
	return out
}
