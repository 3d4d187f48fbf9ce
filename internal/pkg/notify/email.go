package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"taskboard/internal/config"

	"gopkg.in/gomail.v2"
)

// EmailNotifier 实现邮件通知。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendWelcome 发送欢迎邮件。SMTP 未配置时只记录日志，不视为错误。
func (n *EmailNotifier) SendWelcome(toEmail string, username string) error {
	if n.cfg.SMTPHost == "" || n.cfg.SMTPUser == "" || n.cfg.FromEmail == "" {
		if n.logger != nil {
			n.logger.Warn("email config missing, skip welcome mail", slog.String("to", toEmail))
		}
		return nil
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "[Taskboard] Welcome")
	m.SetBody("text/html", n.buildWelcomeBody(username))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	if n.logger != nil {
		n.logger.Info("welcome email sent", slog.String("to", toEmail))
	}
	return nil
}

func (n *EmailNotifier) buildWelcomeBody(username string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString(fmt.Sprintf("<h2>Hi %s,</h2>", username))
	b.WriteString("<p>Your Taskboard account is ready. Create your first task and get going.</p>")
	b.WriteString("<p style=\"color:#888;font-size:12px\">You received this mail because someone registered with this address.</p>")
	b.WriteString("</body></html>")
	return b.String()
}
