package emailsvc

import (
	"fmt"
	"log"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mzalendo/darasa/core"
)

// SentMessages collects every message successfully "sent"; tests inspect it.
var (
	SentMessages = make([]core.EmailMessage, 0)
	mu           sync.Mutex
)

// consoleService renders messages as MIME and prints them to the log instead
// of delivering them. DEV and tests only.
type consoleService struct {
	defaultFromEmail mail.Address
	subjPrefix       string
	disableOutput    bool
}

var _ core.EmailService = (*consoleService)(nil)

func NewConsoleService() core.EmailService {
	return &consoleService{
		defaultFromEmail: core.Conf.DefaultFromEmail,
		subjPrefix:       "[" + core.Conf.AppName + "] ",
	}
}

func (svc consoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		go svc.sendMessage(msg)
	}
}

func (svc consoleService) sendMessage(msg *core.EmailMessage) {
	if !msg.HasRecipients() || !(msg.HasContent() || msg.HasAttachments()) {
		return
	}
	svc.render(*msg)
	mu.Lock()
	SentMessages = append(SentMessages, *msg)
	mu.Unlock()
}

func (svc consoleService) render(msg core.EmailMessage) {
	var out strings.Builder

	fmt.Fprintf(&out, "From: %s\r\n", svc.defaultFromEmail.String())
	fmt.Fprintf(&out, "To: %s\r\n", joinAddresses(msg.To))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&out, "Cc: %s\r\n", joinAddresses(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&out, "Bcc: %s\r\n", joinAddresses(msg.Bcc))
	}
	fmt.Fprintf(&out, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&out, "Subject: %s\r\n", svc.subjPrefix+msg.Subject)
	fmt.Fprint(&out, "MIME-Version: 1.0\r\n")

	w := multipart.NewWriter(&out)
	kind := "alternative"
	if msg.HasAttachments() {
		kind = "mixed"
	}
	fmt.Fprintf(&out, "Content-Type: multipart/%s; boundary=%s\r\n\r\n", kind, w.Boundary())

	part, err := w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain"}})
	if err != nil {
		log.Printf("%+v", errors.Wrap(err, "creating text/plain part"))
		return
	}
	fmt.Fprintf(part, "%s\r\n", msg.BodyStr)

	if msg.HTMLContent != "" {
		if part, err = w.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html"}}); err != nil {
			log.Printf("%+v", errors.Wrap(err, "creating text/html part"))
			return
		}
		fmt.Fprintf(part, "%s\r\n", msg.HTMLContent)
	}

	for _, at := range msg.Attachments {
		part, err = w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {at.ContentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {"attachment; filename=" + at.Filename},
		})
		if err != nil {
			log.Printf("%+v", errors.Wrap(err, "creating "+at.ContentType+" part"))
			return
		}
		fmt.Fprintf(part, "%s\r\n", at.Content.String())
	}
	_ = w.Close()

	if !svc.disableOutput {
		log.Println(out.String())
	}
}

func joinAddresses(addrs []mail.Address) string {
	strs := make([]string, 0, len(addrs))
	for _, a := range addrs {
		strs = append(strs, a.String())
	}
	return strings.Join(strs, ", ")
}

type consoleServiceMock struct {
	consoleService
}

// NewConsoleServiceMock sends synchronously so tests can assert on SentMessages.
func NewConsoleServiceMock() core.EmailService {
	return &consoleServiceMock{
		consoleService: consoleService{
			defaultFromEmail: core.Conf.DefaultFromEmail,
			subjPrefix:       "[" + core.Conf.AppName + "] ",
			disableOutput:    true,
		},
	}
}

func (svc *consoleServiceMock) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		svc.sendMessage(msg)
	}
}
