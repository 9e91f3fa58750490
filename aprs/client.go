package aprs

import (
	"fmt"
	"net"
	"time"

	"github.com/ziutek/telnet"

	"sondetrack/telemetry"
)

// Client pushes telemetry to an APRS-IS server. Each push is a fresh
// connect-login-send cycle: sonde uploads run on a cadence of tens of
// seconds, not worth holding an idle igate connection open between them.
type Client struct {
	Server   string
	Port     int
	User     string
	Pass     string
	ObjectID string // fixed object name; empty uses the sonde id
	Comment  string // comment template, see RenderComment

	DialTimeout time.Duration
}

// NewClient creates an APRS-IS client.
func NewClient(server string, port int, user, pass, objectID, comment string) *Client {
	return &Client{
		Server:      server,
		Port:        port,
		User:        user,
		Pass:        pass,
		ObjectID:    objectID,
		Comment:     comment,
		DialTimeout: 10 * time.Second,
	}
}

// Name identifies the sink in worker logs.
func (c *Client) Name() string { return "aprs-is" }

// Push uploads one record as an APRS object.
func (c *Client) Push(rec *telemetry.Record) error {
	addr := net.JoinHostPort(c.Server, fmt.Sprintf("%d", c.Port))
	conn, err := telnet.DialTimeout("tcp", addr, c.DialTimeout)
	if err != nil {
		return fmt.Errorf("aprs-is dial: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.DialTimeout))

	// Server banner arrives first; the login response follows our login
	// line. Neither is worth parsing, the server drops bad logins and the
	// next cycle retries anyway, but the banner read keeps the exchange
	// ordered on slow links.
	if _, err := conn.ReadString('\n'); err != nil {
		return fmt.Errorf("aprs-is banner: %w", err)
	}
	if _, err := fmt.Fprintf(conn, "user %s pass %s vers sondetrack 1.0\r\n", c.User, c.Pass); err != nil {
		return fmt.Errorf("aprs-is login: %w", err)
	}
	if _, err := conn.ReadString('\n'); err != nil {
		return fmt.Errorf("aprs-is login response: %w", err)
	}

	frame := EncodeObject(c.User, c.ObjectID, rec, RenderComment(c.Comment, rec))
	if _, err := fmt.Fprintf(conn, "%s\r\n", frame); err != nil {
		return fmt.Errorf("aprs-is send: %w", err)
	}
	return nil
}
