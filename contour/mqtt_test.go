package contour

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receivedBatch struct {
	sourceID string
	obs      []Observation
	err      error
}

type recordingHandler struct {
	mu      sync.Mutex
	batches []receivedBatch
}

func (h *recordingHandler) handle(sourceID string, obs []Observation, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.batches = append(h.batches, receivedBatch{sourceID, obs, err})
}

func (h *recordingHandler) all() []receivedBatch {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]receivedBatch(nil), h.batches...)
}

func sourceConfig() *Config {
	api := "http://stations.local/guizhou.json"
	config := DefaultConfig()
	config.Sources = []SourceConfig{
		{ID: "chongqing", Topic: "stations/chongqing"},
		{ID: "sichuan", Topic: "stations/sichuan"},
		{ID: "guizhou", ApiURL: &api},
	}
	return config
}

func TestInitMQTT_Disabled(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	client, err := InitMQTT(sourceConfig(), func(string, []Observation, error) {})
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestInitMQTT_NoConfig(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://127.0.0.1:1")

	_, err := InitMQTT(nil, nil)
	assert.Error(t, err)
}

func TestEnvOr(t *testing.T) {
	t.Setenv("ISOMESH_TEST_KEY", "")
	assert.Equal(t, "def", envOr("ISOMESH_TEST_KEY", "", "def"))
	assert.Equal(t, "cfg", envOr("ISOMESH_TEST_KEY", "cfg", "def"))

	t.Setenv("ISOMESH_TEST_KEY", "env")
	assert.Equal(t, "env", envOr("ISOMESH_TEST_KEY", "cfg", "def"))
}

func TestMQTTClient_IsConnected(t *testing.T) {
	client := &MQTTClient{}
	assert.False(t, client.IsConnected())

	client.setConnected(true)
	assert.True(t, client.IsConnected())

	client.setConnected(false)
	assert.False(t, client.IsConnected())
}

func TestMQTTClient_GetSourceByTopic(t *testing.T) {
	client := NewMQTTClientWithClient(NewMockClient(), sourceConfig(), nil)

	id, ok := client.GetSourceByTopic("stations/sichuan")
	assert.True(t, ok)
	assert.Equal(t, "sichuan", id)

	_, ok = client.GetSourceByTopic("stations/yunnan")
	assert.False(t, ok)
}

func TestMQTTClient_SubscribesToSourceTopics(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	client := NewMQTTClientWithClient(mock, sourceConfig(), nil)
	client.Subscribe()

	assert.Equal(t, []string{"stations/chongqing", "stations/sichuan"}, mock.SubscribedTopics())
	assert.True(t, client.IsConnected())
}

func TestMQTTClient_SubscribeErrorIsLogged(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	mock.SetSubscribeError(errors.New("not authorized"))

	client := NewMQTTClientWithClient(mock, sourceConfig(), nil)
	client.Subscribe()

	assert.Empty(t, mock.SubscribedTopics())
}

func TestMQTTClient_DeliversDecodedObservations(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)
	h := &recordingHandler{}

	client := NewMQTTClientWithClient(mock, sourceConfig(), h.handle)
	client.Subscribe()

	mock.SimulateMessage("stations/chongqing", []byte(stationArray))
	mock.SimulateMessage("stations/sichuan", []byte("garbage"))
	mock.SimulateMessage("stations/unknown", []byte(stationArray))

	batches := h.all()
	require.Len(t, batches, 2)

	assert.Equal(t, "chongqing", batches[0].sourceID)
	assert.NoError(t, batches[0].err)
	assert.Len(t, batches[0].obs, 3)

	assert.Equal(t, "sichuan", batches[1].sourceID)
	assert.Error(t, batches[1].err)
	assert.Nil(t, batches[1].obs)
}

func TestMQTTClient_Disconnect(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	client := NewMQTTClientWithClient(mock, sourceConfig(), nil)
	client.setConnected(true)
	client.Disconnect()

	assert.False(t, mock.IsConnected())
	assert.False(t, client.IsConnected())
	assert.Same(t, mock, client.GetClient())
}

func TestMockClient_PublishRequiresConnection(t *testing.T) {
	mock := NewMockClient()
	token := mock.Publish("a", 0, false, []byte("x"))
	assert.Error(t, token.Error())

	require.NoError(t, mock.Connect().Error())
	require.NoError(t, mock.Publish("a", 1, true, "y").Error())

	msg, ok := mock.LastPublished("a")
	require.True(t, ok)
	assert.Equal(t, []byte("y"), msg.Payload)
	assert.Equal(t, byte(1), msg.QoS)
	assert.True(t, msg.Retain)
}
