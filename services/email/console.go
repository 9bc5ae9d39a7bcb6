package emailsvc

import (
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"sync"

	"github.com/trezcool/mahudhurio/core"
)

// consoleService writes emails to an io.Writer (stdout by default)
// instead of sending them. DEV mode stand-in for Sendgrid.
type consoleService struct {
	conf *core.Config
	from mail.Address
	out  io.Writer
	mu   sync.Mutex
}

var _ core.EmailService = (*consoleService)(nil)

func NewConsoleService(conf *core.Config, out ...io.Writer) *consoleService {
	var w io.Writer = os.Stdout
	if len(out) > 0 && out[0] != nil {
		w = out[0]
	}
	return &consoleService{
		conf: conf,
		from: conf.DefaultFromEmail(),
		out:  w,
	}
}

func (svc *consoleService) SendMessages(messages ...*core.EmailMessage) {
	var wg sync.WaitGroup
	for _, msg := range messages {
		msg := msg
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = msg.Render(svc.conf)
			if msg.HasRecipients() && (msg.HasContent() || msg.HasAttachments()) {
				svc.print(*msg)
			}
		}()
	}
	wg.Wait()
}

func (svc *consoleService) print(msg core.EmailMessage) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	var b strings.Builder
	b.WriteString(strings.Repeat("-", 70) + "\n")
	b.WriteString("From: " + svc.from.String() + "\n")
	b.WriteString("To: " + joinAddresses(msg.To) + "\n")
	if len(msg.Cc) > 0 {
		b.WriteString("Cc: " + joinAddresses(msg.Cc) + "\n")
	}
	b.WriteString("Subject: [" + svc.conf.AppName + "] " + msg.Subject + "\n\n")
	b.WriteString(msg.TextContent + "\n")
	for _, at := range msg.Attachments {
		b.WriteString(fmt.Sprintf("[attachment: %s (%s, %d bytes)]\n", at.Filename, at.ContentType, at.Content.Len()))
	}
	_, _ = io.WriteString(svc.out, b.String())
}

func joinAddresses(addrs []mail.Address) string {
	strs := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		strs = append(strs, addr.String())
	}
	return strings.Join(strs, ", ")
}
