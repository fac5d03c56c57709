package session_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/chatworkbench/streampipe/internal/broker"
	"github.com/chatworkbench/streampipe/internal/session"
	"github.com/chatworkbench/streampipe/internal/streamevent"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		skipIntegration = true
	} else {
		host, err := testRedisContainer.Host(ctx)
		if err != nil {
			skipIntegration = true
		} else {
			port, err := testRedisContainer.MappedPort(ctx, "6379")
			if err != nil {
				skipIntegration = true
			} else {
				testRedisClient = redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
				if err := testRedisClient.Ping(ctx).Err(); err != nil {
					skipIntegration = true
				}
			}
		}
	}

	code := m.Run()

	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}
	os.Exit(code)
}

func newManager(t *testing.T) (*session.Manager, *broker.Broker) {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	require.NoError(t, testRedisClient.FlushDB(context.Background()).Err())

	b, err := broker.New(broker.Options{Redis: testRedisClient, ReceiveTimeout: 100 * time.Millisecond})
	require.NoError(t, err)

	mgr, err := session.New(session.Options{Redis: testRedisClient, Broker: b})
	require.NoError(t, err)
	return mgr, b
}

var upgrader = gorillaws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func TestConnectSubscribeAndDeliverRoundTrip(t *testing.T) {
	mgr, b := newManager(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		require.NoError(t, mgr.Connect(r.Context(), "conn-1", conn))
		require.NoError(t, mgr.RegisterChat(r.Context(), "conn-1", "chat-1"))
		require.NoError(t, mgr.SubscribeToResponse(r.Context(), "resp-1", "conn-1"))
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	var established session.Frame
	require.NoError(t, client.ReadJSON(&established))
	require.Equal(t, session.FrameConnectionEstablished, established.Type)

	ev := streamevent.NewContent("resp-1", "hello")
	ev.SetSequence(0)
	require.NoError(t, b.Publish(context.Background(), "resp-1", ev))

	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	var delivered session.Frame
	require.NoError(t, client.ReadJSON(&delivered))
	require.Equal(t, session.FrameEvent, delivered.Type)
}

func TestUnsubscribeClosesBrokerSubscription(t *testing.T) {
	mgr, b := newManager(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		require.NoError(t, mgr.Connect(r.Context(), "conn-2", conn))
		require.NoError(t, mgr.SubscribeToResponse(r.Context(), "resp-2", "conn-2"))
		mgr.UnsubscribeFromResponse("resp-2", "conn-2")
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	var established session.Frame
	require.NoError(t, client.ReadJSON(&established))

	time.Sleep(150 * time.Millisecond)

	ev := streamevent.NewContent("resp-2", "should not arrive")
	ev.SetSequence(0)
	require.NoError(t, b.Publish(context.Background(), "resp-2", ev))

	client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var frame session.Frame
	err = client.ReadJSON(&frame)
	require.Error(t, err)
}

// TestDeliverContinuesPastOneFailingSubscriber checks that when one of two
// subscribers to the same response_id has gone away, delivery still reaches
// the other rather than aborting for the whole fan-out.
func TestDeliverContinuesPastOneFailingSubscriber(t *testing.T) {
	mgr, b := newManager(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		connID := r.URL.Query().Get("id")
		require.NoError(t, mgr.Connect(r.Context(), connID, conn))
		require.NoError(t, mgr.SubscribeToResponse(r.Context(), "resp-5", connID))
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	good, _, err := gorillaws.DefaultDialer.Dial(wsURL+"?id=conn-good", nil)
	require.NoError(t, err)
	defer good.Close()
	var establishedGood session.Frame
	require.NoError(t, good.ReadJSON(&establishedGood))

	bad, _, err := gorillaws.DefaultDialer.Dial(wsURL+"?id=conn-bad", nil)
	require.NoError(t, err)
	var establishedBad session.Frame
	require.NoError(t, bad.ReadJSON(&establishedBad))
	require.NoError(t, bad.Close()) // subscriber goes away without unsubscribing

	time.Sleep(100 * time.Millisecond)

	ev := streamevent.NewContent("resp-5", "still here")
	ev.SetSequence(0)
	require.NoError(t, b.Publish(context.Background(), "resp-5", ev))

	good.SetReadDeadline(time.Now().Add(3 * time.Second))
	var delivered session.Frame
	require.NoError(t, good.ReadJSON(&delivered))
	require.Equal(t, session.FrameEvent, delivered.Type)
}

func TestAccumulatedContentCache(t *testing.T) {
	mgr, _ := newManager(t)
	mgr.TrackContent("resp-3", "Hel")
	mgr.TrackContent("resp-3", "lo")
	require.Equal(t, "Hello", mgr.GetAccumulatedContent("resp-3"))
	mgr.ClearAccumulatedContent("resp-3")
	require.Equal(t, "", mgr.GetAccumulatedContent("resp-3"))
}

func TestDisconnectRemovesConnectionRecord(t *testing.T) {
	mgr, _ := newManager(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		require.NoError(t, mgr.Connect(r.Context(), "conn-4", conn))
		mgr.Disconnect(r.Context(), "conn-4")
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	time.Sleep(100 * time.Millisecond)
	exists, err := testRedisClient.Exists(context.Background(), "ws:conn:conn-4").Result()
	require.NoError(t, err)
	require.Equal(t, int64(0), exists)
}
