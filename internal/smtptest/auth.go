package smtptest

import (
	"encoding/base64"
	"errors"
	"strings"
)

// errBadCredentials covers both malformed and wrong credentials; the client
// gets the same 535 reply either way.
var errBadCredentials = errors.New("bad credentials")

// authenticator holds the single account a Server accepts.
type authenticator struct {
	username string
	password string
}

// newAuthenticator returns an authenticator; empty credentials disable AUTH.
func newAuthenticator(username, password string) *authenticator {
	return &authenticator{username: username, password: password}
}

func (a *authenticator) enabled() bool {
	return a.username != "" && a.password != ""
}

func (a *authenticator) match(user, pass string) error {
	if user != a.username || pass != a.password {
		return errBadCredentials
	}
	return nil
}

// verifyPlain checks an AUTH PLAIN response, base64 of
// "authzid NUL authcid NUL password". The authzid is ignored.
func (a *authenticator) verifyPlain(encoded string) error {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return errBadCredentials
	}

	fields := strings.Split(string(decoded), "\x00")
	if len(fields) != 3 {
		return errBadCredentials
	}
	return a.match(fields[1], fields[2])
}

// verifyLogin checks the two base64 answers of an AUTH LOGIN exchange.
func (a *authenticator) verifyLogin(encodedUser, encodedPass string) error {
	user, err := base64.StdEncoding.DecodeString(encodedUser)
	if err != nil {
		return errBadCredentials
	}
	pass, err := base64.StdEncoding.DecodeString(encodedPass)
	if err != nil {
		return errBadCredentials
	}
	return a.match(string(user), string(pass))
}
