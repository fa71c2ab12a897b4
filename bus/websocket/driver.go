// Package websocket carries wire frames as binary websocket messages, one request per message.
package websocket

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"hwreg/bus"
	"hwreg/ral"
	"hwreg/util"
	"hwreg/util/env"
	"hwreg/wire"
)

const driverName = "ws"

type Driver struct{}

func (d *Driver) Description() string {
	return "websocket bridge; target is a ws:// URL served by hwreg serve"
}

func (d *Driver) Open(ctx context.Context, target string, logger *zap.Logger) (bus.Conn, error) {
	logger.Info("dial", zap.String("url", target))
	conn, _, _, err := ws.Dial(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("ws: [%s] dial: %w", target, err)
	}
	return &Conn{
		url:    target,
		logger: logger,
		ws:     conn,
		w:      wsutil.NewWriter(conn, ws.StateClientSide, ws.OpBinary),
	}, nil
}

// Conn is a client side websocket transport. Round trips are serialized.
type Conn struct {
	url    string
	logger *zap.Logger

	mu sync.Mutex
	ws net.Conn
	w  *wsutil.Writer
}

func (c *Conn) Callbacks() ral.CallbackSet { return wire.Callbacks(c) }

func (c *Conn) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return nil, fmt.Errorf("ws: [%s] %w", c.url, net.ErrClosed)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetDeadline(deadline)
		defer c.ws.SetDeadline(time.Time{})
	}

	if _, err := c.w.Write(payload); err != nil {
		return nil, fmt.Errorf("ws: [%s] write: %w", c.url, err)
	}
	if err := c.w.Flush(); err != nil {
		return nil, fmt.Errorf("ws: [%s] flush: %w", c.url, err)
	}

	for {
		msg, op, err := wsutil.ReadServerData(c.ws)
		if err != nil {
			return nil, fmt.Errorf("ws: [%s] error reading response: %w", c.url, err)
		}
		if op != ws.OpBinary {
			c.logger.Debug("ignoring non-binary message", zap.Uint8("op", uint8(op)))
			continue
		}
		return msg, nil
	}
}

func (c *Conn) Close() (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return nil
	}
	c.logger.Debug("close websocket")
	_ = wsutil.WriteClientMessage(c.ws, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	err = c.ws.Close()
	c.ws = nil
	c.w = nil
	return
}

// Handler upgrades HTTP requests to websockets and answers wire requests against a CallbackSet.
type Handler struct {
	cb     ral.CallbackSet
	logger *zap.Logger
}

func NewHandler(cb ral.CallbackSet, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{cb: cb, logger: logger}
}

func (h *Handler) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(req, rw)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		rw.WriteHeader(400)
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("remote", req.RemoteAddr))
	logger.Debug("websocket open")
	ctx := req.Context()
	for {
		msg, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			logger.Debug("websocket closed", zap.Error(err))
			return
		}
		if op != ws.OpBinary {
			continue
		}
		if err = wsutil.WriteServerMessage(conn, ws.OpBinary, wire.Handle(ctx, h.cb, msg)); err != nil {
			logger.Warn("write failed", zap.Error(err))
			return
		}
	}
}

func init() {
	if util.IsTruthy(env.GetOrDefault("HWREG_WS_DISABLE", "0")) {
		return
	}
	bus.Register(driverName, &Driver{})
}
