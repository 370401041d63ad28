// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package alert sends alert mails to the camera operators.
package alert // import "github.com/go-lpc/epix/internal/alert"

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	mail "gopkg.in/gomail.v2"
)

// ErrNoCredentials is returned when the mail server configuration is
// incomplete.
var ErrNoCredentials = errors.New("alert: missing credentials")

// Config describes the mail server and the recipients of alerts.
type Config struct {
	Server   string   `json:"server"`
	Port     int      `json:"port"`
	User     string   `json:"user"`
	Password string   `json:"password"`
	To       []string `json:"to"`
}

// FromEnv returns a configuration from the MAIL_SERVER, MAIL_PORT,
// MAIL_USERNAME, MAIL_PASSWORD and MAIL_TGTS environment variables.
func FromEnv() Config {
	cfg := Config{
		Server:   os.Getenv("MAIL_SERVER"),
		User:     os.Getenv("MAIL_USERNAME"),
		Password: os.Getenv("MAIL_PASSWORD"),
	}
	cfg.Port, _ = strconv.Atoi(os.Getenv("MAIL_PORT"))
	if v := os.Getenv("MAIL_TGTS"); v != "" {
		cfg.To = strings.Split(v, ",")
	}
	return cfg
}

func (cfg Config) valid() bool {
	return cfg.Server != "" && cfg.Port != 0 &&
		cfg.User != "" && cfg.Password != "" &&
		len(cfg.To) > 0
}

// Mailer sends alert mails, at most a fixed number of times per alert key.
type Mailer struct {
	mu   sync.Mutex
	cfg  Config
	msg  *log.Logger
	max  int
	sent map[string]int
	snd  mail.Sender
}

type Option func(*Mailer)

// WithLogger sets the logger of the mailer.
func WithLogger(msg *log.Logger) Option {
	return func(m *Mailer) {
		m.msg = msg
	}
}

// WithMaxAlerts sets the number of mails sent for a given alert key.
func WithMaxAlerts(n int) Option {
	return func(m *Mailer) {
		m.max = n
	}
}

// WithSender sends mails through snd instead of dialing the mail server.
func WithSender(snd mail.Sender) Option {
	return func(m *Mailer) {
		m.snd = snd
	}
}

func New(cfg Config, opts ...Option) *Mailer {
	m := &Mailer{
		cfg:  cfg,
		msg:  log.New(os.Stdout, "alert: ", 0),
		max:  5,
		sent: make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Alert sends a mail with the provided subject and body.
// Alerts sharing the same key are sent at most WithMaxAlerts times.
func (m *Mailer) Alert(key, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.msg.Printf("%s: %s", key, subject)
	if m.sent[key] >= m.max {
		return nil
	}
	if !m.cfg.valid() {
		return ErrNoCredentials
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.cfg.User)
	msg.SetHeader("Bcc", m.cfg.To...)
	msg.SetHeader("Subject", "[epix] "+subject)
	msg.SetBody("text/plain", body)

	err := m.send(msg)
	if err != nil {
		return fmt.Errorf("alert: could not send mail: %w", err)
	}
	m.sent[key]++
	return nil
}

func (m *Mailer) send(msg *mail.Message) error {
	if m.snd != nil {
		return mail.Send(m.snd, msg)
	}
	dial := mail.NewDialer(m.cfg.Server, m.cfg.Port, m.cfg.User, m.cfg.Password)
	dial.TLSConfig = &tls.Config{
		ServerName: m.cfg.Server,
	}
	return dial.DialAndSend(msg)
}
