package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"time"

	gomail "gopkg.in/mail.v2"
)

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
}

type SMTPClient struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
	// backoff is the wait before the first retry, doubled on each attempt.
	backoff time.Duration
}

func NewSMTPClient(cfg SMTPConfig) (*SMTPClient, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.FromEmail == "" {
		return nil, errors.New("from email is required")
	}

	return &SMTPClient{
		cfg:     cfg,
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		backoff: time.Second,
	}, nil
}

func (c *SMTPClient) Send(templateFile, username, email string, data any) (int, error) {
	message, err := c.compose(templateFile, username, email, data)
	if err != nil {
		return -1, err
	}

	var retryErr error
	for i := 0; i < maxRetires; i++ {
		retryErr = c.dialer.DialAndSend(message)
		if retryErr == nil {
			return 200, nil
		}
		// exponential backoff
		time.Sleep(c.backoff << i)
	}

	return -1, fmt.Errorf("failed to send email after %d attempts, error: %v", maxRetires, retryErr)
}

func (c *SMTPClient) compose(templateFile, username, email string, data any) (*gomail.Message, error) {
	tmpl, err := template.ParseFS(FS, "templates/"+templateFile)
	if err != nil {
		return nil, err
	}

	subject := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(subject, "subject", data); err != nil {
		return nil, err
	}

	body := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(body, "body", data); err != nil {
		return nil, err
	}

	message := gomail.NewMessage()
	message.SetAddressHeader("From", c.cfg.FromEmail, FromName)
	message.SetAddressHeader("To", email, username)
	message.SetHeader("Subject", subject.String())
	message.AddAlternative("text/html", body.String())
	return message, nil
}

// NopClient drops every message. It stands in when no SMTP host is configured.
type NopClient struct{}

func (NopClient) Send(templateFile, username, email string, data any) (int, error) {
	return 200, nil
}
