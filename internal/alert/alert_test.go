// Copyright 2021 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package alert

import (
	"bytes"
	"errors"
	"io"
	"log"
	"reflect"
	"strings"
	"testing"

	mail "gopkg.in/gomail.v2"
)

func TestMailer(t *testing.T) {
	var (
		from string
		to   []string
		buf  = new(bytes.Buffer)
		n    int
	)
	snd := mail.SendFunc(func(f string, t []string, msg io.WriterTo) error {
		n++
		from = f
		to = t
		buf.Reset()
		_, err := msg.WriteTo(buf)
		return err
	})

	cfg := Config{
		Server:   "smtp.example.org",
		Port:     587,
		User:     "epix@example.org",
		Password: "s3cr3t",
		To:       []string{"op1@example.org", "op2@example.org"},
	}
	m := New(cfg,
		WithLogger(log.New(io.Discard, "", 0)),
		WithSender(snd),
		WithMaxAlerts(2),
	)

	for i := 0; i < 4; i++ {
		err := m.Alert("startup", "startup failed", "step rails failed")
		if err != nil {
			t.Fatalf("could not send alert %d: %+v", i, err)
		}
	}

	if got, want := n, 2; got != want {
		t.Fatalf("invalid number of mails: got=%d, want=%d", got, want)
	}
	if got, want := from, cfg.User; got != want {
		t.Fatalf("invalid sender: got=%q, want=%q", got, want)
	}
	if got, want := to, cfg.To; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid recipients: got=%q, want=%q", got, want)
	}
	for _, want := range []string{"[epix] startup failed", "step rails failed"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("mail does not contain %q:\n%s", want, buf.String())
		}
	}

	err := m.Alert("daq", "daq failed", "sink file failed")
	if err != nil {
		t.Fatalf("could not send alert: %+v", err)
	}
	if got, want := n, 3; got != want {
		t.Fatalf("invalid number of mails: got=%d, want=%d", got, want)
	}
}

func TestMailerNoCredentials(t *testing.T) {
	m := New(Config{Server: "smtp.example.org"}, WithLogger(log.New(io.Discard, "", 0)))
	err := m.Alert("startup", "startup failed", "")
	if !errors.Is(err, ErrNoCredentials) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrNoCredentials)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("MAIL_SERVER", "smtp.example.org")
	t.Setenv("MAIL_PORT", "465")
	t.Setenv("MAIL_USERNAME", "epix")
	t.Setenv("MAIL_PASSWORD", "pwd")
	t.Setenv("MAIL_TGTS", "a@example.org,b@example.org")

	want := Config{
		Server:   "smtp.example.org",
		Port:     465,
		User:     "epix",
		Password: "pwd",
		To:       []string{"a@example.org", "b@example.org"},
	}
	if got := FromEnv(); !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid config:\ngot= %+v\nwant=%+v", got, want)
	}
}
