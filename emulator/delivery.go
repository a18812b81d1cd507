package emulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"strings"
	"time"

	"github.com/maxpert/cqnwatch/dpi"
)

// Mailer sends notifications for the mail protocol
type Mailer interface {
	Send(to, subject string, body []byte) error
}

// SMTPMailer delivers through a plain SMTP relay
type SMTPMailer struct {
	Addr string
	From string
	Auth smtp.Auth
}

func (m *SMTPMailer) Send(to, subject string, body []byte) error {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\nTo: %s\r\nSubject: %s\r\n", m.From, to, subject)
	msg.WriteString("Content-Type: application/json\r\n\r\n")
	msg.Write(body)
	return smtp.SendMail(m.Addr, m.Auth, m.From, []string{to}, msg.Bytes())
}

// Procedure is invoked for the stored procedure protocol
type Procedure func(ctx context.Context, p *Payload) error

// deliverRemote hands a payload to an out-of-process recipient
func (s *Server) deliverRemote(ctx context.Context, protocol dpi.Protocol, recipient string, p *Payload) error {
	switch protocol {
	case dpi.ProtoHTTP:
		return s.postHTTP(ctx, recipient, p)
	case dpi.ProtoPLSQL:
		proc, ok := s.procedures.Load(strings.ToUpper(recipient))
		if !ok {
			return fmt.Errorf("procedure %s is not registered", recipient)
		}
		return proc(ctx, p)
	case dpi.ProtoMail:
		if s.opts.Mailer == nil {
			return fmt.Errorf("no mailer configured for %s", recipient)
		}
		body, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return s.opts.Mailer.Send(recipient, "Notification: "+p.EventType, body)
	default:
		return fmt.Errorf("protocol %s cannot be delivered remotely", protocol)
	}
}

func (s *Server) postHTTP(ctx context.Context, url string, p *Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s responded %s", url, resp.Status)
	}
	return nil
}
