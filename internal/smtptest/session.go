package smtptest

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

type phase int

const (
	phaseConnected phase = iota
	phaseGreeted
	phaseAuthenticated
	phaseMail
	phaseRcpt
)

const readTimeout = 30 * time.Second

// Replies carry RFC 3463 enhanced status codes where one applies.
const (
	replyOK            = "250 2.0.0 OK"
	replyBye           = "221 2.0.0 Closing connection"
	replyQueued        = "250 2.0.0 Queued"
	replyStartData     = "354 End data with <CR><LF>.<CR><LF>"
	replyStartTLS      = "220 2.0.0 Go ahead with TLS"
	replyAuthOK        = "235 2.7.0 Authentication succeeded"
	replyAuthFailed    = "535 5.7.8 Authentication failed"
	replyAuthRequired  = "530 5.7.0 Authentication required"
	replyAuthCancelled = "501 5.7.0 Authentication cancelled"
	replyAuthUnknown   = "504 5.5.4 Unsupported authentication mechanism"
	replyNoAuth        = "503 5.5.1 AUTH is not enabled"
	replyNoTLS         = "454 4.7.0 STARTTLS not offered"
	replyTLSActive     = "503 5.5.1 TLS already active"
	replyNeedHello     = "503 5.5.1 Say hello first"
	replyNeedMail      = "503 5.5.1 Need MAIL before RCPT"
	replyNeedRcpt      = "503 5.5.1 Need RCPT before DATA"
	replyBadMail       = "501 5.5.4 Expected MAIL FROM:<address>"
	replyBadRcpt       = "501 5.5.4 Expected RCPT TO:<address>"
	replyUnknown       = "502 5.5.2 Command not recognized"

	// base64 of "Username:" and "Password:"
	promptUser = "334 VXNlcm5hbWU6"
	promptPass = "334 UGFzc3dvcmQ6"
)

var errAuthCancelled = errors.New("authentication cancelled")

// session serves one client connection.
type session struct {
	srv   *Server
	conn  net.Conn
	r     *bufio.Reader
	w     *bufio.Writer
	phase phase
	tls   bool

	from string
	to   []string
}

func newSession(conn net.Conn, srv *Server) *session {
	s := &session{srv: srv}
	s.attach(conn)
	return s
}

func (s *session) attach(conn net.Conn) {
	s.conn = conn
	s.r = bufio.NewReader(conn)
	s.w = bufio.NewWriter(conn)
}

// handle runs the command loop until QUIT, a read error or a failed upgrade.
func (s *session) handle() {
	defer s.conn.Close()

	s.reply("220 %s ESMTP smtptest ready", s.srv.hostname)

	for {
		line, err := s.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("smtptest: read failed", "error", err)
			}
			return
		}
		if line == "" {
			continue
		}

		verb, arg, _ := strings.Cut(line, " ")
		if !s.dispatch(strings.ToUpper(verb), arg) {
			return
		}
	}
}

// dispatch runs one command. It returns false when the connection must close.
func (s *session) dispatch(verb, arg string) bool {
	switch verb {
	case "EHLO", "HELO":
		s.hello(verb, arg)
	case "STARTTLS":
		return s.startTLS()
	case "AUTH":
		s.authenticate(arg)
	case "MAIL":
		s.mail(arg)
	case "RCPT":
		s.rcpt(arg)
	case "DATA":
		return s.data()
	case "RSET":
		s.reset()
		s.reply(replyOK)
	case "NOOP":
		s.reply(replyOK)
	case "QUIT":
		s.reply(replyBye)
		return false
	default:
		s.reply(replyUnknown)
	}
	return true
}

func (s *session) hello(verb, domain string) {
	if domain == "" {
		s.reply("501 5.5.4 %s requires a domain", verb)
		return
	}

	s.reset()
	s.phase = max(s.phase, phaseGreeted)

	if verb == "HELO" {
		s.reply("250 %s greets %s", s.srv.hostname, domain)
		return
	}

	ext := []string{fmt.Sprintf("%s greets %s", s.srv.hostname, domain), "8BITMIME"}
	if s.srv.tlsConfig != nil && !s.tls {
		ext = append(ext, "STARTTLS")
	}
	if s.srv.auth.enabled() {
		ext = append(ext, "AUTH PLAIN LOGIN")
	}
	for i, e := range ext {
		sep := "-"
		if i == len(ext)-1 {
			sep = " "
		}
		s.reply("250%s%s", sep, e)
	}
}

// startTLS upgrades the connection in place and drops back to the
// pre-greeting phase, as RFC 3207 requires.
func (s *session) startTLS() bool {
	switch {
	case s.srv.tlsConfig == nil:
		s.reply(replyNoTLS)
		return true
	case s.tls:
		s.reply(replyTLSActive)
		return true
	}

	s.reply(replyStartTLS)

	conn := tls.Server(s.conn, s.srv.tlsConfig)
	if err := conn.Handshake(); err != nil {
		slog.Debug("smtptest: TLS handshake failed", "error", err)
		return false
	}

	s.attach(conn)
	s.tls = true
	s.phase = phaseConnected
	s.reset()
	return true
}

func (s *session) authenticate(arg string) {
	switch {
	case s.phase < phaseGreeted:
		s.reply(replyNeedHello)
		return
	case !s.srv.auth.enabled():
		s.reply(replyNoAuth)
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")

	var err error
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		err = s.authPlain(initial)
	case "LOGIN":
		err = s.authLogin()
	default:
		s.reply(replyAuthUnknown)
		return
	}

	switch {
	case errors.Is(err, errAuthCancelled):
		s.reply(replyAuthCancelled)
	case errors.Is(err, errBadCredentials):
		s.reply(replyAuthFailed)
	case err != nil:
		// connection error; the read loop will notice
	default:
		s.phase = phaseAuthenticated
		s.reply(replyAuthOK)
	}
}

func (s *session) authPlain(initial string) error {
	if initial == "" {
		var err error
		if initial, err = s.challenge("334 "); err != nil {
			return err
		}
	}
	return s.srv.auth.verifyPlain(initial)
}

func (s *session) authLogin() error {
	user, err := s.challenge(promptUser)
	if err != nil {
		return err
	}
	pass, err := s.challenge(promptPass)
	if err != nil {
		return err
	}
	return s.srv.auth.verifyLogin(user, pass)
}

// challenge sends an AUTH prompt and returns the client's answer.
func (s *session) challenge(prompt string) (string, error) {
	s.reply("%s", prompt)
	answer, err := s.readLine()
	if err != nil {
		return "", err
	}
	if answer == "*" {
		return "", errAuthCancelled
	}
	return answer, nil
}

func (s *session) mail(arg string) {
	switch {
	case s.phase < phaseGreeted:
		s.reply(replyNeedHello)
		return
	case s.srv.auth.enabled() && s.phase < phaseAuthenticated:
		s.reply(replyAuthRequired)
		return
	}

	addr, ok := pathArg(arg, "FROM:")
	if !ok {
		s.reply(replyBadMail)
		return
	}

	s.from = addr
	s.to = nil
	s.phase = phaseMail
	s.reply(replyOK)
}

func (s *session) rcpt(arg string) {
	if s.phase < phaseMail {
		s.reply(replyNeedMail)
		return
	}

	addr, ok := pathArg(arg, "TO:")
	if !ok || addr == "" {
		s.reply(replyBadRcpt)
		return
	}

	s.to = append(s.to, addr)
	s.phase = phaseRcpt
	s.reply(replyOK)
}

// data reads the message up to the terminating "." line. It returns false
// if the connection failed mid-message.
func (s *session) data() bool {
	if s.phase < phaseRcpt {
		s.reply(replyNeedRcpt)
		return true
	}

	s.reply(replyStartData)

	var buf strings.Builder
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			slog.Debug("smtptest: DATA interrupted", "error", err)
			return false
		}
		if strings.TrimRight(line, "\r\n") == "." {
			break
		}
		// undo dot-stuffing
		buf.WriteString(strings.TrimPrefix(line, "."))
	}

	defer s.reset()

	if s.srv.dataReply != "" {
		s.reply("%s", s.srv.dataReply)
		return true
	}

	raw := []byte(buf.String())
	msg, err := parse(raw)
	if err != nil {
		s.reply("554 5.6.0 Unparseable message: %v", err)
		return true
	}
	msg.EnvelopeFrom = s.from
	msg.EnvelopeTo = s.to
	msg.Raw = raw

	s.srv.record(msg)
	s.reply(replyQueued)
	return true
}

// reset drops the envelope and keeps greeting and authentication.
func (s *session) reset() {
	s.from = ""
	s.to = nil

	if s.phase > phaseAuthenticated {
		s.phase = phaseGreeted
		if s.srv.auth.enabled() {
			s.phase = phaseAuthenticated
		}
	}
}

func (s *session) readLine() (string, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return "", err
	}
	line, err := s.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (s *session) reply(format string, args ...any) {
	fmt.Fprintf(s.w, format+"\r\n", args...)
	s.w.Flush()
}

// pathArg extracts the address following prefix in a MAIL or RCPT argument.
// Both <addr> and bare forms are accepted and ESMTP parameters such as
// BODY=8BITMIME are ignored. The null path <> yields an empty address.
func pathArg(arg, prefix string) (string, bool) {
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", false
	}
	param := strings.TrimSpace(arg[len(prefix):])

	if rest, ok := strings.CutPrefix(param, "<"); ok {
		addr, _, found := strings.Cut(rest, ">")
		return addr, found
	}

	addr, _, _ := strings.Cut(param, " ")
	return addr, addr != ""
}
