package broker

import (
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"lymbo/internal/model"
)

// Client is the executor-subprocess half of component G: it implements
// registry.Borrower by round-tripping election and poll requests to the
// controller's Broker over the Unix socket (SPEC_FULL.md §4.7).
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to the controller's broker socket inside dir.
func Dial(dir string) (*Client, error) {
	sockPath := socketPath(dir)
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("broker: dialing %s: %w", sockPath, err)
	}
	return &Client{conn: conn}, nil
}

func socketPath(dir string) string {
	return filepath.Join(dir, SocketName)
}

// Borrow implements registry.Borrower: it elects (or joins) the slot for
// (category, scopeID, factoryName+args), then polls until the slot
// settles, at which point it either returns the published value or
// re-raises a published setup error as an acquisition failure (spec.md
// §4.7: "if it is an error value, it is re-raised as an acquisition
// failure").
func (c *Client) Borrow(category model.ScopeCategory, scopeID, factoryName string, args model.Params) (any, error) {
	req := BorrowRequest{
		Category:    category,
		ScopeID:     scopeID,
		FactoryName: factoryName,
		Args:        args,
	}

	if _, err := c.roundTrip(kindBorrow, req, &SlotResponse{}); err != nil {
		return nil, fmt.Errorf("broker: election for %s: %w", factoryName, err)
	}

	for {
		var resp SlotResponse
		if _, err := c.roundTrip(kindPoll, req, &resp); err != nil {
			return nil, fmt.Errorf("broker: polling for %s: %w", factoryName, err)
		}
		if resp.Ready {
			if resp.Output != "" {
				// Every requester prints the factory's captured setup
				// output into its own test output stream, so setup noise
				// is attributed to whichever test is visibly waiting on
				// it (spec.md §4.7: "Every requester... prints the
				// captured setup output to its own output stream").
				fmt.Print(resp.Output)
			}
			if resp.Error != "" {
				return nil, fmt.Errorf("broker: acquiring %s: %s", factoryName, resp.Error)
			}
			var value any
			if len(resp.Value) > 0 {
				if err := json.Unmarshal(resp.Value, &value); err != nil {
					return nil, fmt.Errorf("broker: decoding value for %s: %w", factoryName, err)
				}
			}
			return value, nil
		}
		time.Sleep(pollInterval)
	}
}

// Decrement tells the controller a test finished, so it can decrement
// every scope key the test referenced and tear down any now-empty
// buckets (spec.md §4.6).
func (c *Client) Decrement(scopes map[model.ScopeCategory]string) error {
	var resp DecrementResponse
	if _, err := c.roundTrip(kindDecrement, DecrementRequest{Scopes: scopes}, &resp); err != nil {
		return fmt.Errorf("broker: decrementing scopes: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("broker: decrementing scopes: %s", resp.Error)
	}
	return nil
}

// Close sends a stop message and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = writeFrame(c.conn, kindStop, struct{}{})
	return c.conn.Close()
}

func (c *Client) roundTrip(kind messageKind, req any, resp any) (envelope, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeFrame(c.conn, kind, req); err != nil {
		return envelope{}, err
	}
	env, err := readFrame(c.conn)
	if err != nil {
		return envelope{}, err
	}
	if resp != nil {
		if err := json.Unmarshal(env.Payload, resp); err != nil {
			return envelope{}, fmt.Errorf("broker: decoding response: %w", err)
		}
	}
	return env, nil
}
