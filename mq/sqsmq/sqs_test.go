package sqsmq

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
)

func TestToMessage(t *testing.T) {
	msg := toMessage(types.Message{
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String(`{"summary":{"roomId":"abc"}}`),
		Attributes:    map[string]string{"ApproximateReceiveCount": "3"},
	})

	assert.Equal(t, "rh-1", msg.Handle)
	assert.Equal(t, `{"summary":{"roomId":"abc"}}`, string(msg.Body))
	assert.Equal(t, 3, msg.ReceiveCount)
}

func TestToMessage_WithoutReceiveCount(t *testing.T) {
	msg := toMessage(types.Message{ReceiptHandle: aws.String("rh-1"), Body: aws.String("x")})
	assert.Zero(t, msg.ReceiveCount)

	msg = toMessage(types.Message{Attributes: map[string]string{"ApproximateReceiveCount": "lots"}})
	assert.Zero(t, msg.ReceiveCount)
	assert.Empty(t, msg.Body)
}
