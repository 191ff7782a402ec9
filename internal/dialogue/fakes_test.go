package dialogue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashureev/fieldagent/internal/domain"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type fakeStore struct {
	mu sync.Mutex

	transcriptCalls int
	fieldsCalls     int
	completionCalls int

	transcript []domain.Message
	fields     domain.CollectedFields
	summary    string

	failTranscript bool
	failFieldsOnce bool
}

func (f *fakeStore) SaveTranscript(_ context.Context, _ int64, transcript []domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcriptCalls++
	if f.failTranscript {
		return errors.New("disk full")
	}
	f.transcript = transcript
	return nil
}

func (f *fakeStore) SaveCollectedFields(_ context.Context, _ int64, fields domain.CollectedFields) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fieldsCalls++
	if f.failFieldsOnce {
		f.failFieldsOnce = false
		return errors.New("database is locked")
	}
	f.fields = fields
	return nil
}

func (f *fakeStore) SaveCompletion(_ context.Context, _ int64, _ time.Time, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completionCalls++
	f.summary = summary
	return nil
}

type fakeChatModel struct {
	reply string
	err   error
	block bool

	input []*schema.Message
	opts  *model.Options
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	f.opts = model.GetCommonOptions(nil, opts...)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}
