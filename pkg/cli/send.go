package cli

import (
	"fmt"
	"net/mail"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nimburion/acsmail/pkg/client"
	"github.com/nimburion/acsmail/pkg/email"
)

func newSendCommand(loadConfig configLoaderFunc) *cobra.Command {
	var (
		from            string
		to              []string
		cc              []string
		bcc             []string
		replyTo         []string
		subject         string
		text            string
		html            string
		htmlFile        string
		attachments     []string
		headers         []string
		disableTracking bool
		noWait          bool
	)

	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Send an email and wait for the outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}

			if html != "" && htmlFile != "" {
				return fmt.Errorf("--html and --html-file are mutually exclusive")
			}
			if htmlFile != "" {
				content, err := os.ReadFile(htmlFile)
				if err != nil {
					return fmt.Errorf("read html file: %w", err)
				}
				html = string(content)
			}

			msg, err := buildMessage(from, to, cc, bcc, replyTo, subject, text, html, attachments, headers, disableTracking)
			if err != nil {
				return err
			}

			cli, err := buildClient(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := setupTracing(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer shutdownTracing()

			result, err := cli.Send(ctx, msg, client.WithStatusObserver(func(report *email.SendResponse) {
				fmt.Printf("status:    %s\n", report.Status)
			}))
			if err != nil {
				return err
			}
			fmt.Printf("operation: %s\n", result.OperationID())

			if noWait {
				result.Cancel()
				return nil
			}

			report, err := result.Wait(ctx)
			if report != nil {
				fmt.Print(renderReport(report.ID, report.Status.String(), report.Error.String()))
			}
			return err
		},
	}

	flags := sendCmd.Flags()
	flags.StringVar(&from, "from", "", "sender address (a verified sender of the resource)")
	flags.StringSliceVar(&to, "to", nil, "To recipient, repeatable; accepts \"Name <addr>\"")
	flags.StringSliceVar(&cc, "cc", nil, "Cc recipient, repeatable")
	flags.StringSliceVar(&bcc, "bcc", nil, "Bcc recipient, repeatable")
	flags.StringSliceVar(&replyTo, "reply-to", nil, "Reply-To address, repeatable")
	flags.StringVar(&subject, "subject", "", "message subject")
	flags.StringVar(&text, "text", "", "plain text body")
	flags.StringVar(&html, "html", "", "HTML body")
	flags.StringVar(&htmlFile, "html-file", "", "file containing the HTML body")
	flags.StringSliceVar(&attachments, "attach", nil, "attachment file path, repeatable")
	flags.StringSliceVar(&headers, "header", nil, "custom header as name=value, repeatable")
	flags.BoolVar(&disableTracking, "disable-tracking", false, "disable user engagement tracking for this message")
	flags.BoolVar(&noWait, "no-wait", false, "print the operation id without waiting for delivery")
	_ = sendCmd.MarkFlagRequired("from")
	_ = sendCmd.MarkFlagRequired("subject")

	return sendCmd
}

func newStatusCommand(loadConfig configLoaderFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status <operation-id>",
		Short: "Show the current status of a send operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			cli, err := buildClient(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := cli.GetSendStatus(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Print(renderReport(report.ID, report.Status.String(), report.Error.String()))
			return nil
		},
	}
}

func buildMessage(from string, to, cc, bcc, replyTo []string, subject, text, html string, attachmentPaths, headerFlags []string, disableTracking bool) (*email.Message, error) {
	toAddrs, err := parseAddressList(to)
	if err != nil {
		return nil, err
	}
	ccAddrs, err := parseAddressList(cc)
	if err != nil {
		return nil, err
	}
	bccAddrs, err := parseAddressList(bcc)
	if err != nil {
		return nil, err
	}
	replyToAddrs, err := parseAddressList(replyTo)
	if err != nil {
		return nil, err
	}

	var opts []email.MessageOption
	if len(replyToAddrs) > 0 {
		opts = append(opts, email.WithReplyTo(replyToAddrs...))
	}
	if len(headerFlags) > 0 {
		parsed, err := parseHeaderFlags(headerFlags)
		if err != nil {
			return nil, err
		}
		opts = append(opts, email.WithHeaders(parsed))
	}
	if len(attachmentPaths) > 0 {
		atts := make([]email.Attachment, 0, len(attachmentPaths))
		for _, path := range attachmentPaths {
			att, err := email.NewAttachmentFromFile(path)
			if err != nil {
				return nil, err
			}
			atts = append(atts, att)
		}
		opts = append(opts, email.WithAttachments(atts...))
	}
	if disableTracking {
		opts = append(opts, email.WithUserEngagementTrackingDisabled(true))
	}

	return email.NewMessage(
		from,
		email.Recipients{To: toAddrs, Cc: ccAddrs, Bcc: bccAddrs},
		email.Content{Subject: subject, PlainText: text, HTML: html},
		opts...,
	)
}

// parseAddressList accepts bare addresses and RFC 5322 "Name <addr>" forms.
func parseAddressList(values []string) ([]email.Address, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]email.Address, 0, len(values))
	for _, value := range values {
		parsed, err := mail.ParseAddress(value)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", value, err)
		}
		out = append(out, email.Address{Address: parsed.Address, DisplayName: parsed.Name})
	}
	return out, nil
}

func parseHeaderFlags(values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, value := range values {
		name, headerValue, found := strings.Cut(value, "=")
		if !found || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q: want name=value", value)
		}
		out[strings.TrimSpace(name)] = headerValue
	}
	return out, nil
}
