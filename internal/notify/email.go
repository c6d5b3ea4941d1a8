package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/cronflow/cronflow/internal/crypto"
	"github.com/cronflow/cronflow/internal/models"
)

// EmailNotifier delivers rendered HTML messages over SMTP.
type EmailNotifier struct {
	enc *crypto.Encryptor
}

func NewEmailNotifier(enc *crypto.Encryptor) *EmailNotifier {
	return &EmailNotifier{enc: enc}
}

func (n *EmailNotifier) Kind() string { return models.ChannelEmail }

func (n *EmailNotifier) Send(ctx context.Context, cred *models.Credential, msg Message) error {
	if len(msg.Recipients) == 0 {
		return fmt.Errorf("no recipients")
	}
	if cred.SMTPHost == "" {
		return fmt.Errorf("credential %s has no smtp host", cred.ID)
	}

	password, err := n.enc.Decrypt(cred.EncryptedPassword)
	if err != nil {
		return fmt.Errorf("decrypt smtp password: %w", err)
	}

	from := cred.FromAddress
	if from == "" {
		from = cred.SMTPUsername
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	addr := fmt.Sprintf("%s:%d", cred.SMTPHost, cred.SMTPPort)
	var auth smtp.Auth
	if cred.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cred.SMTPUsername, password, cred.SMTPHost)
	}

	if err := smtp.SendMail(addr, auth, from, msg.Recipients, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
