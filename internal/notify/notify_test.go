package notify

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/Rzx-x/Ticket-Agent/pkg/resilient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	sent []Email
	err  error
}

func (f *fakeMailer) Send(_ context.Context, m Email) error {
	f.sent = append(f.sent, m)
	return f.err
}

type fakeTexter struct {
	to, body string
}

func (f *fakeTexter) Send(_ context.Context, to, body string) error {
	f.to, f.body = to, body
	return nil
}

func TestDispatcherChoosesChannel(t *testing.T) {
	base := model.Ticket{TicketNumber: "TKT-20250101-AAAAAA", Title: "VPN down"}

	tests := []struct {
		name   string
		mutate func(*model.Ticket)
		want   Channel
	}{
		{"sms source with phone", func(t *model.Ticket) { t.Source = model.SourceSMS; t.UserPhone = "+911234567890"; t.UserEmail = "a@b.c" }, ChannelSMS},
		{"sms source without phone", func(t *model.Ticket) { t.Source = model.SourceSMS; t.UserEmail = "a@b.c" }, ChannelEmail},
		{"web with email", func(t *model.Ticket) { t.Source = model.SourceWeb; t.UserEmail = "a@b.c" }, ChannelEmail},
		{"no contact", func(t *model.Ticket) { t.Source = model.SourceWeb }, ChannelNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk := base
			tt.mutate(&tk)
			mail, sms := &fakeMailer{}, &fakeTexter{}
			got, err := NewDispatcher(mail, sms, "", nil).NotifyTicket(context.Background(), &tk, "We are on it.")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			switch tt.want {
			case ChannelEmail:
				require.Len(t, mail.sent, 1)
				assert.Equal(t, "[TKT-20250101-AAAAAA] VPN down | IT Support Team", mail.sent[0].Subject)
				assert.Equal(t, "We are on it.\n\n-- \nIT Support Team", mail.sent[0].TextBody)
			case ChannelSMS:
				assert.Equal(t, "TKT-20250101-AAAAAA: We are on it.", sms.body)
			}
		})
	}
}

func TestDispatcherSignsWithTeamName(t *testing.T) {
	tk := &model.Ticket{TicketNumber: "TKT-20250101-BBBBBB", Title: "Printer jam", UserEmail: "a@b.c"}

	mail := &fakeMailer{}
	d := NewDispatcher(mail, nil, "Desk Ops", nil)
	_, err := d.NotifyTicket(context.Background(), tk, "Please reload the tray.")
	require.NoError(t, err)
	_, err = d.NotifyTicket(context.Background(), tk, "Thanks,\nDesk Ops")
	require.NoError(t, err)

	require.Len(t, mail.sent, 2)
	assert.Equal(t, "[TKT-20250101-BBBBBB] Printer jam | Desk Ops", mail.sent[0].Subject)
	assert.Equal(t, "Please reload the tray.\n\n-- \nDesk Ops", mail.sent[0].TextBody)
	assert.Equal(t, "Thanks,\nDesk Ops", mail.sent[1].TextBody, "already signed replies are left alone")
}

func TestDispatcherWithoutSenders(t *testing.T) {
	tk := &model.Ticket{UserEmail: "a@b.c"}
	got, err := NewDispatcher(nil, nil, "", nil).NotifyTicket(context.Background(), tk, "x")
	require.NoError(t, err)
	assert.Equal(t, ChannelNone, got)

	var d *Dispatcher
	got, err = d.NotifyTicket(context.Background(), tk, "x")
	require.NoError(t, err)
	assert.Equal(t, ChannelNone, got)
}

func TestDispatcherPropagatesSendError(t *testing.T) {
	tk := &model.Ticket{UserEmail: "a@b.c"}
	_, err := NewDispatcher(&fakeMailer{err: errors.New("smtp down")}, nil, "", nil).NotifyTicket(context.Background(), tk, "x")
	assert.EqualError(t, err, "smtp down")
}

func TestBuildMessage(t *testing.T) {
	_, err := buildMessage("", Email{To: []string{"a@b.c"}, Subject: "s", TextBody: "b"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	_, err = buildMessage("helpdesk@corp.test", Email{To: []string{" "}, Subject: "s", TextBody: "b"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	_, err = buildMessage("helpdesk@corp.test", Email{To: []string{"a@b.c"}, Subject: "s"})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	msg, err := buildMessage("helpdesk@corp.test", Email{To: []string{"a@b.c"}, Subject: "Ticket received", TextBody: "hello"})
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Subject: Ticket received")
	assert.Contains(t, buf.String(), "To: a@b.c")
}

func TestEmailSenderHonoursContext(t *testing.T) {
	// 192.0.2.0/24 is reserved for documentation and never answers.
	s := NewEmailSender(SMTPConfig{Host: "192.0.2.1", Port: 25, From: "helpdesk@corp.test", Timeout: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Send(ctx, Email{To: []string{"a@b.c"}, Subject: "s", TextBody: "b"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSMSSender(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550001111", r.PostForm.Get("To"))
		assert.Equal(t, "+15559998888", r.PostForm.Get("From"))
		assert.Len(t, []rune(r.PostForm.Get("Body")), maxSMSRunes)
		assert.True(t, strings.HasSuffix(r.PostForm.Get("Body"), "..."))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewSMSSender(TwilioConfig{AccountSID: "AC123", AuthToken: "secret", FromNumber: "+15559998888", BaseURL: srv.URL})
	require.NoError(t, s.Send(context.Background(), "+15550001111", strings.Repeat("x", 500)))
	assert.ErrorIs(t, s.Send(context.Background(), "", "x"), ErrInvalidMessage)
}

func TestSMSSenderDoesNotRetrySends(t *testing.T) {
	for _, code := range []int{http.StatusBadGateway, http.StatusServiceUnavailable} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(code)
		}))

		s := NewSMSSender(TwilioConfig{AccountSID: "AC1", BaseURL: srv.URL},
			resilient.WithMaxRetries(5), resilient.WithBackoff(time.Millisecond, time.Millisecond))
		err := s.Send(context.Background(), "+15550001111", "hi")
		srv.Close()

		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load(), "status %d", code)
	}
}

func TestSMSSenderSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewSMSSender(TwilioConfig{AccountSID: "AC1", BaseURL: srv.URL})
	err := s.Send(context.Background(), "+1", "hi")
	require.Error(t, err)
	code, ok := resilient.StatusCode(err)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, code)
}
