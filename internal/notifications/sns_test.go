package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"carbon-scribe/verification-service/internal/verification"
)

// MockSNS is a mock implementation of the SNSAPI interface
type MockSNS struct {
	mock.Mock
}

func (m *MockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sns.PublishOutput), args.Error(1)
}

func statusEvent(status verification.Status) verification.Event {
	sub := &verification.Submission{ID: "c-77", Kind: verification.KindComplaint}
	return verification.NewEvent(verification.StatusEventName(status), sub, map[string]any{"score": 88.0})
}

func TestPublisher_PublishesStatusEvents(t *testing.T) {
	client := new(MockSNS)
	pub := NewPublisher(client, "arn:aws:sns:us-east-1:123456789012:verifications", zap.NewNop())

	client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		var ev verification.Event
		if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &ev); err != nil {
			return false
		}
		return aws.ToString(in.TopicArn) == "arn:aws:sns:us-east-1:123456789012:verifications" &&
			aws.ToString(in.Subject) == "submission-verified" &&
			aws.ToString(in.MessageAttributes["kind"].StringValue) == "complaint" &&
			ev.SubmissionID == "c-77"
	})).Return(&sns.PublishOutput{MessageId: aws.String("m-1")}, nil)

	pub.Notify(statusEvent(verification.StatusVerified))
	client.AssertExpectations(t)
}

func TestPublisher_SkipsProgressEvents(t *testing.T) {
	client := new(MockSNS)
	pub := NewPublisher(client, "arn", zap.NewNop())

	sub := &verification.Submission{ID: "c-1", Kind: verification.KindComplaint}
	pub.Notify(verification.NewEvent(verification.FacetEventName(verification.FacetImage), sub, nil))
	pub.Notify(verification.NewEvent(verification.EventWorkflowStart, sub, nil))

	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestPublisher_ErrorsAreSwallowed(t *testing.T) {
	client := new(MockSNS)
	pub := NewPublisher(client, "arn", zap.NewNop())
	client.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	assert.NotPanics(t, func() { pub.Notify(statusEvent(verification.StatusRejected)) })
	client.AssertNumberOfCalls(t, "Publish", 1)
}

func TestFilter_Matches(t *testing.T) {
	ev := verification.Event{SubmissionID: "p-1", Kind: verification.KindPlantation}

	assert.True(t, Filter{}.Matches(ev))
	assert.True(t, Filter{SubmissionID: "p-1"}.Matches(ev))
	assert.True(t, Filter{Kind: verification.KindPlantation}.Matches(ev))
	assert.False(t, Filter{SubmissionID: "p-2"}.Matches(ev))
	assert.False(t, Filter{Kind: verification.KindComplaint}.Matches(ev))
}
