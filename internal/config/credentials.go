package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var ErrNoTerminal = errors.New("credentials missing and stdin is not a terminal")

type Prompter interface {
	Prompt(label string, secret bool) (string, error)
}

// TerminalPrompter asks on stdout and reads stdin; secrets are read without echo.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer

	reader *bufio.Reader
}

func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stdout}
}

func (p *TerminalPrompter) Prompt(label string, secret bool) (string, error) {
	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNoTerminal
	}
	fmt.Fprintf(p.Out, "%s: ", label)

	if secret {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(p.Out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

type credential struct {
	key    string
	label  string
	secret bool
	target *string
}

// EnsureCredentials prompts for every missing broker and mailbox credential
// and saves the answers to the settings file.
func (c *Config) EnsureCredentials(p Prompter) error {
	var creds []credential
	if c.Broker.Driver == "bridge" {
		creds = append(creds,
			credential{"broker.email", "Email аккаунта брокера", false, &c.Broker.Email},
			credential{"broker.password", "Пароль аккаунта брокера", true, &c.Broker.Password},
		)
	}
	creds = append(creds,
		credential{"mailbox.user", "Адрес почты (Gmail)", false, &c.Mailbox.User},
		credential{"mailbox.password", "Пароль приложения почты", true, &c.Mailbox.Password},
	)

	answers := map[string]string{}
	for _, cr := range creds {
		if *cr.target != "" {
			continue
		}
		if p == nil {
			return fmt.Errorf("%w: %s", ErrNoTerminal, cr.key)
		}
		val, err := p.Prompt(cr.label, cr.secret)
		if err != nil {
			return fmt.Errorf("Не удалось получить %s: %w", cr.key, err)
		}
		if val == "" {
			return fmt.Errorf("Пустое значение %s.", cr.key)
		}
		*cr.target = val
		answers[cr.key] = val
	}

	if len(answers) == 0 {
		return nil
	}
	if err := persist(c.settingsPath, answers); err != nil {
		return fmt.Errorf("Не удалось сохранить настройки: %w", err)
	}
	return nil
}
