// Command gateway runs the streaming event pipeline: the Event Processor,
// Broker Bridge, WebSocket Session Manager, and Durable Writer wired
// together behind a single WebSocket endpoint.
//
// # Configuration
//
// Environment variables:
//
//	GATEWAY_ADDR       - HTTP listen address (default: ":8080")
//	REDIS_URL          - Redis connection address (default: "localhost:6379")
//	REDIS_PASSWORD     - Redis password (optional)
//	DYNAMO_TABLE       - DynamoDB table name (default: "streampipe")
//	RECEIVE_TIMEOUT    - broker subscription poll timeout (default: "1s")
//	SEND_QUEUE_SIZE    - per-connection outbound frame queue size (default: 256)
//
// # Example
//
//	REDIS_URL=localhost:6379 DYNAMO_TABLE=streampipe go run ./cmd/gateway
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/chatworkbench/streampipe/internal/broker"
	"github.com/chatworkbench/streampipe/internal/eventproc"
	"github.com/chatworkbench/streampipe/internal/session"
	"github.com/chatworkbench/streampipe/internal/store"
	"github.com/chatworkbench/streampipe/internal/streamevent"
	"github.com/chatworkbench/streampipe/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()
	telemetryProvider := telemetry.NewClueProvider()

	addr := envOr("GATEWAY_ADDR", ":8080")
	redisURL := envOr("REDIS_URL", "localhost:6379")
	redisPassword := os.Getenv("REDIS_PASSWORD")
	table := envOr("DYNAMO_TABLE", "streampipe")
	recvTimeout := envDurationOr("RECEIVE_TIMEOUT", time.Second)
	queueSize := envIntOr("SEND_QUEUE_SIZE", 256)

	rdb := redis.NewClient(&redis.Options{Addr: redisURL, Password: redisPassword})
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Printf("close redis: %v", err)
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	b, err := broker.New(broker.Options{Redis: rdb, Telemetry: telemetryProvider, ReceiveTimeout: recvTimeout})
	if err != nil {
		return fmt.Errorf("create broker: %w", err)
	}

	sessionMgr, err := session.New(session.Options{Redis: rdb, Broker: b, Telemetry: telemetryProvider, SendQueueSize: queueSize})
	if err != nil {
		return fmt.Errorf("create session manager: %w", err)
	}

	repo, err := store.NewRepository(store.RepositoryOptions{Client: dynamoClient, Table: table, Telemetry: telemetryProvider})
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}

	coord, err := store.NewCoordinator(store.CoordinatorOptions{Repository: repo, Publisher: b, Telemetry: telemetryProvider})
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}
	processor := eventproc.New(coord, coord, telemetryProvider)
	coord.Bind(processor)

	gw := &gateway{
		session:   sessionMgr,
		processor: processor,
		coord:     coord,
		telemetry: telemetryProvider,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.handleWebSocket)
	srv := &http.Server{Addr: addr, Handler: mux}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("starting gateway on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		_ = sig
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// gateway holds the per-server dependencies shared by every connection.
type gateway struct {
	session   *session.Manager
	processor *eventproc.Processor
	coord     *store.Coordinator
	telemetry telemetry.Provider
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (gw *gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		gw.telemetry.Logger.Warn(r.Context(), "gateway: websocket upgrade failed", "error", err.Error())
		return
	}

	connectionID := r.URL.Query().Get("connection_id")
	if connectionID == "" {
		connectionID = newConnectionID()
	}

	ctx := r.Context()
	if err := gw.session.Connect(ctx, connectionID, conn); err != nil {
		gw.telemetry.Logger.Error(ctx, "gateway: connect failed", "connection_id", connectionID, "error", err.Error())
		_ = conn.Close()
		return
	}
	defer gw.session.Disconnect(ctx, connectionID)

	for {
		var frame session.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		gw.dispatch(ctx, connectionID, frame)
	}
}

func (gw *gateway) dispatch(ctx context.Context, connectionID string, frame session.Frame) {
	switch frame.Type {
	case session.FramePing:
		_ = gw.session.SendMessage(ctx, connectionID, session.FramePong, map[string]string{})
	case session.FrameInitialize:
		gw.handleInitialize(ctx, connectionID, frame)
	case session.FrameInterrupt:
		gw.handleInterrupt(ctx, frame)
	}
}

func (gw *gateway) handleInitialize(ctx context.Context, connectionID string, frame session.Frame) {
	var data session.InitializeFrameData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		_ = gw.session.SendMessage(ctx, connectionID, session.FrameError, session.ErrorFrameData{
			Error: "invalid initialize payload", ErrorType: "validation_error",
		})
		return
	}

	responseID := newConnectionID()
	if err := gw.session.RegisterChat(ctx, connectionID, data.ChatID); err != nil {
		gw.telemetry.Logger.Warn(ctx, "gateway: register chat failed", "error", err.Error())
	}
	if err := gw.session.SubscribeToResponse(ctx, responseID, connectionID); err != nil {
		gw.telemetry.Logger.Warn(ctx, "gateway: subscribe failed", "error", err.Error())
		return
	}
	if err := gw.session.TrackGeneration(ctx, data.ChatID, responseID); err != nil {
		gw.telemetry.Logger.Warn(ctx, "gateway: track generation failed", "error", err.Error())
	}

	go gw.runAgentEventSource(context.Background(), data, responseID)
}

func (gw *gateway) handleInterrupt(ctx context.Context, frame session.Frame) {
	var data session.InterruptFrameData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		return
	}
	responseID, active, err := gw.session.ActiveGeneration(ctx, data.ChatID)
	if err != nil {
		gw.telemetry.Logger.Warn(ctx, "gateway: lookup active generation failed", "chat_id", data.ChatID, "error", err.Error())
	}
	if active {
		if err := gw.coord.Cancel(ctx, responseID); err != nil {
			gw.telemetry.Logger.Warn(ctx, "gateway: cancel failed", "response_id", responseID, "error", err.Error())
		}
	}
	_ = gw.session.StopGeneration(ctx, data.ChatID)
}

// runAgentEventSource stands in for the real planner/model event source: it
// drives a minimal response through the pipeline so the wiring above can be
// exercised end to end without a configured model backend.
func (gw *gateway) runAgentEventSource(ctx context.Context, req session.InitializeFrameData, responseID string) {
	requestID := newConnectionID()
	if err := gw.processor.Process(ctx, responseID, streamevent.NewResponseStart(responseID, requestID, req.ChatID, req.Model, "", req.Task)); err != nil {
		gw.telemetry.Logger.Error(ctx, "gateway: response_start failed", "response_id", responseID, "error", err.Error())
		return
	}
	if err := gw.processor.Process(ctx, responseID, streamevent.NewContent(responseID, "Hello from the gateway.")); err != nil {
		gw.telemetry.Logger.Error(ctx, "gateway: content event failed", "response_id", responseID, "error", err.Error())
	}
	if err := gw.coord.Finish(ctx, responseID); err != nil {
		gw.telemetry.Logger.Error(ctx, "gateway: finish failed", "response_id", responseID, "error", err.Error())
	}
}

func newConnectionID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
