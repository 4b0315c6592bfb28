package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopic(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Topic
		wantErr bool
	}{
		{name: "exact name", input: "device_health", want: TopicDeviceHealth},
		{name: "mixed case and spaces", input: "  Publisher_Status ", want: TopicPublisherStatus},
		{name: "unknown topic", input: "weather", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTopic(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedTopic)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTopicRoundTripsByName(t *testing.T) {
	for _, topic := range AllTopics() {
		parsed, err := ParseTopic(topic.String())
		require.NoError(t, err)
		assert.Equal(t, topic, parsed)
	}
	assert.Len(t, AllTopics(), NumTopics)
}

func TestTopicSet(t *testing.T) {
	s := NewTopicSet(TopicDeviceHealth, TopicSystemAlerts)

	assert.True(t, s.Has(TopicDeviceHealth))
	assert.True(t, s.Has(TopicSystemAlerts))
	assert.False(t, s.Has(TopicPublisherStatus))
	assert.Equal(t, 2, s.Len())

	s = s.Add(TopicDeviceHealth)
	assert.Equal(t, 2, s.Len(), "adding a member twice must not grow the set")

	s = s.Remove(TopicDeviceHealth)
	assert.Equal(t, []Topic{TopicSystemAlerts}, s.Topics())

	assert.False(t, s.Has(Topic(200)))
	assert.Equal(t, s, s.Add(Topic(200)))
}

func TestServerFrameEncodesTopicsByName(t *testing.T) {
	topic := TopicDeviceHealth
	seq := uint64(4)
	frame := ServerFrame{
		Type:         FrameAck,
		Action:       ActionSubscribe,
		Topic:        &topic,
		LastSequence: &seq,
	}

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"ack","action":"subscribe","topic":"device_health","last_seq":4}`, string(data))

	var decoded ServerFrame
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.Topic)
	assert.Equal(t, TopicDeviceHealth, *decoded.Topic)
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorCode
	}{
		{err: ErrTopicDisabled, want: CodeTopicDisabled},
		{err: fmt.Errorf("wrap: %w", ErrUnsupportedTopic), want: CodeUnsupportedTopic},
		{err: ErrSubscriptionLimitExceeded, want: CodeLimitExceeded},
		{err: ErrConnectionLimitExceeded, want: CodeLimitExceeded},
		{err: errors.New("boom"), want: CodeInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CodeFor(tt.err), tt.err.Error())
	}
}

func TestPollErrorUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("tick: %w", &PollError{Reason: PollReasonNetwork, Err: cause})

	var pollErr *PollError
	require.True(t, errors.As(err, &pollErr))
	assert.Equal(t, PollReasonNetwork, pollErr.Reason)
	assert.ErrorIs(t, err, cause)

	withStatus := &PollError{Reason: PollReasonStatus, StatusCode: 500, Err: errors.New("unexpected status")}
	assert.Contains(t, withStatus.Error(), "HTTP 500")
}
