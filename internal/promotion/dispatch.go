package promotion

import (
	"context"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
)

// MQDispatcher передаёт promotion builds воркерам через RabbitMQ.
type MQDispatcher struct {
	Publisher *mq.Publisher
}

// Dispatch публикует promotion.ready.
func (d *MQDispatcher) Dispatch(ctx context.Context, build *domain.PromotionBuild) error {
	return d.Publisher.PublishPromotionReady(ctx, mq.PromotionReadyPayload{
		BuildID: build.ID,
		Job:     build.Job,
		Number:  build.Number,
		Process: build.Process,
		Attempt: build.Attempt,
	})
}
