package app

import (
	"github.com/avtodom/dms/internal/invoice"
	"github.com/avtodom/dms/internal/messaging/kafka"
	"github.com/avtodom/dms/internal/service/checkout"
)

// createCoordinator создаёт checkout coordinator с или без Kafka в
// зависимости от наличия kafka producer. Счётчик хранилища оборачивается
// сервисом нумерации: он логирует провалы и приводит ошибку к
// ErrInvoiceAssignmentFailed.
func createCoordinator(
	deps *Dependencies,
	kafkaProducer *kafka.Producer,
) checkout.Coordinator {
	invoices := invoice.NewService(deps.Invoices, deps.Logger.WithField("component", "invoice"))

	if kafkaProducer != nil {
		return checkout.NewCoordinatorWithKafka(
			deps.Vehicles,
			deps.Sales,
			deps.Customers,
			invoices,
			deps.OutboxRepo,
			deps.TimelineRepo,
			kafkaProducer,
			deps.Logger,
		)
	}

	return checkout.NewCoordinator(
		deps.Vehicles,
		deps.Sales,
		deps.Customers,
		invoices,
		deps.OutboxRepo,
		deps.TimelineRepo,
		deps.Logger,
	)
}
