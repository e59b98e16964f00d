package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/customeros/mailobserver/interfaces"
	"github.com/customeros/mailobserver/internal/enum"
	mailerrors "github.com/customeros/mailobserver/internal/errors"
	"github.com/customeros/mailobserver/internal/logger"
	"github.com/customeros/mailobserver/internal/tracing"
)

const (
	DEFAULT_DIAL_TIMEOUT    = 30 * time.Second
	DEFAULT_COMMAND_TIMEOUT = 60 * time.Second
	DEFAULT_IMAP_LOGOUT     = 25 * time.Minute
	DEFAULT_POLLING_PERIOD  = 20 * time.Minute
	LOGOUT_TIMEOUT          = 5 * time.Second
)

type Config struct {
	Security           enum.EmailSecurity
	InsecureSkipVerify bool
	DialTimeout        time.Duration
	CommandTimeout     time.Duration
	IdleLogoutTimeout  time.Duration
	IdlePollInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Security == "" {
		c.Security = enum.EmailSecurityTLS
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DEFAULT_DIAL_TIMEOUT
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DEFAULT_COMMAND_TIMEOUT
	}
	if c.IdleLogoutTimeout <= 0 {
		c.IdleLogoutTimeout = DEFAULT_IMAP_LOGOUT
	}
	if c.IdlePollInterval <= 0 {
		c.IdlePollInterval = DEFAULT_POLLING_PERIOD
	}
	return c
}

// Connector opens IMAP sessions with go-imap.
type Connector struct {
	cfg      Config
	log      logger.Logger
	resolver *net.Resolver
}

func NewConnector(cfg Config, log logger.Logger) *Connector {
	return &Connector{
		cfg:      cfg.withDefaults(),
		log:      log,
		resolver: net.DefaultResolver,
	}
}

// Connect resolves host, dials it and performs the TLS handshake the
// configured security mode asks for. Name resolution failures are
// reported as ErrAddressResolution and every other failure as
// ErrConnection.
func (c *Connector) Connect(ctx context.Context, host string, port int) (interfaces.Session, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Connector.Connect")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("server", host)
	span.SetTag("port", port)
	span.SetTag("security", string(c.cfg.Security))

	if _, err := c.resolver.LookupHost(ctx, host); err != nil {
		tracing.TraceErr(span, err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(mailerrors.ErrAddressResolution, "%s: %v", host, err)
	}

	serverAddr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{
		Timeout:   c.cfg.DialTimeout,
		KeepAlive: 30 * time.Second,
	}

	conn, err := dialer.DialContext(ctx, "tcp", serverAddr)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, classifyDialError(serverAddr, err)
	}

	tlsConfig := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: c.cfg.InsecureSkipVerify,
	}

	if c.cfg.Security == enum.EmailSecurityTLS {
		tlsConn := tls.Client(conn, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			tracing.TraceErr(span, err)
			return nil, errors.Wrapf(mailerrors.ErrConnection, "tls handshake with %s: %v", serverAddr, err)
		}
		conn = tlsConn
	}

	updates := make(chan client.Update, 100)
	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(mailerrors.ErrConnection, "greeting from %s: %v", serverAddr, err)
	}
	imapClient.Updates = updates
	imapClient.ErrorLog = zap.NewStdLog(c.log.Logger())
	imapClient.Timeout = c.cfg.CommandTimeout

	if c.cfg.Security == enum.EmailSecurityStartTLS {
		if err := imapClient.StartTLS(tlsConfig); err != nil {
			imapClient.Logout()
			tracing.TraceErr(span, err)
			return nil, errors.Wrapf(mailerrors.ErrConnection, "STARTTLS with %s: %v", serverAddr, err)
		}
	}

	c.log.Debugf("Connected to %s", serverAddr)
	return newSession(imapClient, updates, c.cfg, host, c.log), nil
}

func classifyDialError(addr string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errors.Wrapf(mailerrors.ErrAddressResolution, "%s: %v", addr, err)
	}
	return errors.Wrap(mailerrors.ErrConnection, fmt.Sprintf("dial %s: %v", addr, err))
}

var _ interfaces.SessionClient = (*Connector)(nil)
