// Package remotesigner implements a client for HTTP signing services that hold
// the signing key on behalf of the caller.
//
// A signing request is a POST to {host}/sign with the JSON body
//
//	{"message": "<hex digest>", "encoding": "hex"}
//
// answered by {"address", "sig", "message", "ts", "recovery"} where sig is the
// base64 ECDSA signature over the message in signed-message form.
package remotesigner

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/sigmaproto/sigma/signmsg"
)

const (
	// signPath is the endpoint signing requests are posted to.
	signPath = "/sign"

	// hexEncoding tells the signer the message is hex encoded.
	hexEncoding = "hex"

	// maxBodySize bounds the response body read from the signer.
	maxBodySize = 1 << 16

	// DefaultRequestTimeout is used when no timeout is configured.
	DefaultRequestTimeout = 30 * time.Second
)

var (
	// ErrRemoteSigner matches every error returned for a failed exchange
	// with the remote signer.
	ErrRemoteSigner = errors.New("remote signer failure")

	// ErrStaleResponse is returned when the timestamp of a response lies
	// further from the local time than the configured skew allows.
	ErrStaleResponse = errors.New("response timestamp out of range")
)

// Error describes a failed signing request. StatusCode is zero if no response
// was received.
type Error struct {
	StatusCode int
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%v: %v", ErrRemoteSigner, e.Err)
	}

	if e.Err != nil {
		return fmt.Sprintf("%v: status %d: %v", ErrRemoteSigner,
			e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%v: status %d: %s", ErrRemoteSigner, e.StatusCode,
		e.Body)
}

// Unwrap returns the transport error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrRemoteSigner) hold for every *Error.
func (e *Error) Is(target error) bool {
	return target == ErrRemoteSigner
}

// AuthType selects where the auth token is placed in a request.
type AuthType string

const (
	// AuthTypeHeader sends the token as a request header.
	AuthTypeHeader AuthType = "header"

	// AuthTypeQuery sends the token as a URL query parameter.
	AuthTypeQuery AuthType = "query"
)

// AuthToken authenticates requests to the remote signer.
type AuthToken struct {
	Type  AuthType
	Key   string
	Value string
}

// ClientConfig holds the configuration of a Client.
type ClientConfig struct {
	// Host is the base URL of the signer, e.g. https://signer.example.
	Host string

	// AuthToken is attached to every request if set.
	AuthToken fn.Option[AuthToken]

	// RequestTimeout bounds a single request.
	RequestTimeout time.Duration

	// MaxClockSkew bounds the distance between the ts of a response and
	// the local time. Zero disables the check, as does a response without
	// ts.
	MaxClockSkew time.Duration

	// Clock provides the local time. The system clock is used if nil.
	Clock clock.Clock
}

// signRequest is the JSON body of a signing request.
type signRequest struct {
	Message  string `json:"message"`
	Encoding string `json:"encoding"`
}

// Response is the JSON answer of the signer.
type Response struct {
	Address  string `json:"address"`
	Sig      string `json:"sig"`
	Message  string `json:"message"`
	Ts       int64  `json:"ts"`
	Recovery *int   `json:"recovery"`
}

// Client talks to a remote signer. No request is retried.
type Client struct {
	cfg        *ClientConfig
	clock      clock.Clock
	httpClient *http.Client
}

// NewClient creates a new remote signer client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("remote signer host not set")
	}
	if _, err := url.Parse(cfg.Host); err != nil {
		return nil, fmt.Errorf("invalid remote signer host: %w", err)
	}

	var authErr error
	cfg.AuthToken.WhenSome(func(token AuthToken) {
		switch token.Type {
		case AuthTypeHeader, AuthTypeQuery:
		default:
			authErr = fmt.Errorf("unknown auth token type %q",
				token.Type)
		}
	})
	if authErr != nil {
		return nil, authErr
	}
	if cfg.MaxClockSkew < 0 {
		return nil, fmt.Errorf("invalid max clock skew %v",
			cfg.MaxClockSkew)
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	return &Client{
		cfg:   cfg,
		clock: clk,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// signURL returns the signing endpoint, with the auth token added if it goes
// into the query.
func (c *Client) signURL() (string, error) {
	u, err := url.Parse(strings.TrimSuffix(c.cfg.Host, "/") + signPath)
	if err != nil {
		return "", err
	}

	c.cfg.AuthToken.WhenSome(func(token AuthToken) {
		if token.Type != AuthTypeQuery {
			return
		}

		q := u.Query()
		q.Set(token.Key, token.Value)
		u.RawQuery = q.Encode()
	})

	return u.String(), nil
}

// Sign asks the signer to sign the hex encoded message.
func (c *Client) Sign(ctx context.Context, msgHex string) (*Response, error) {
	body, err := json.Marshal(&signRequest{
		Message:  msgHex,
		Encoding: hexEncoding,
	})
	if err != nil {
		return nil, err
	}

	endpoint, err := c.signURL()
	if err != nil {
		return nil, &Error{Err: err}
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint, bytes.NewReader(body),
	)
	if err != nil {
		return nil, &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	c.cfg.AuthToken.WhenSome(func(token AuthToken) {
		if token.Type == AuthTypeHeader {
			req.Header.Set(token.Key, token.Value)
		}
	})

	log.Debugf("Requesting signature for %v from %v", msgHex, c.cfg.Host)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &Error{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	var signResp Response
	if err := json.Unmarshal(respBody, &signResp); err != nil {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        fmt.Errorf("invalid response: %w", err),
		}
	}

	if err := c.checkTimestamp(signResp.Ts); err != nil {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			Err:        err,
		}
	}

	if signResp.Message != "" && !strings.EqualFold(signResp.Message,
		msgHex) {

		log.Warnf("Remote signer echoed message %v, requested %v",
			signResp.Message, msgHex)
	}

	return &signResp, nil
}

// checkTimestamp makes sure ts, in unix seconds, is within MaxClockSkew of
// the local time.
func (c *Client) checkTimestamp(ts int64) error {
	if c.cfg.MaxClockSkew == 0 || ts == 0 {
		return nil
	}

	now := c.clock.Now()
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > c.cfg.MaxClockSkew {
		return fmt.Errorf("%w: ts %d is %v away from %v, max %v",
			ErrStaleResponse, ts, skew, now.Unix(),
			c.cfg.MaxClockSkew)
	}

	return nil
}

// SignMessage has the signer sign msg and returns the result as an ECDSA
// signature. A signature without recovery id is returned as bare r || s with
// no RecoveryID set.
func (c *Client) SignMessage(ctx context.Context,
	msg []byte) (*signmsg.Signature, error) {

	resp, err := c.Sign(ctx, hex.EncodeToString(msg))
	if err != nil {
		return nil, err
	}

	return resp.Signature()
}

// Signature decodes the response into an ECDSA signature.
func (r *Response) Signature() (*signmsg.Signature, error) {
	raw, err := base64.StdEncoding.DecodeString(r.Sig)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v",
			signmsg.ErrMalformedSignature, err)
	}

	sig := &signmsg.Signature{
		Algorithm: signmsg.AlgoECDSA,
		Address:   r.Address,
	}

	var rs []byte
	switch len(raw) {
	case signmsg.CompactSigSize:
		rs = raw[1:]

		// An explicit recovery id takes precedence over the header.
		if r.Recovery == nil {
			id, err := signmsg.RecoveryIDFromCompact(raw)
			if err != nil {
				return nil, err
			}
			sig.RecoveryID = fn.Some(id)
		}

	case signmsg.CompactSigSize - 1:
		rs = raw

	default:
		return nil, fmt.Errorf("%w: %d byte signature",
			signmsg.ErrMalformedSignature, len(raw))
	}

	if r.Recovery != nil {
		if *r.Recovery < 0 || *r.Recovery > 3 {
			return nil, fmt.Errorf("%w: recovery id %d",
				signmsg.ErrNoRecoveryID, *r.Recovery)
		}
		sig.RecoveryID = fn.Some(byte(*r.Recovery))
	}

	sig.Sig = fn.ElimOption(sig.RecoveryID,
		func() []byte { return rs },
		func(id byte) []byte {
			compact, _ := signmsg.CompactFromRecovery(rs, id)
			return compact
		},
	)

	return sig, nil
}
