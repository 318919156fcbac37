package invoice

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/avtodom/dms/internal/domain"
)

// numberWidth — минимальная ширина числовой части в человекочитаемом номере.
const numberWidth = 4

// Service выдаёт номера счетов поверх атомарного счётчика хранилища.
// Номер нельзя выводить подсчётом существующих записей журнала: пара
// count-then-insert под конкурентными checkout даёт дубликаты.
type Service struct {
	seq    domain.InvoiceSequence
	logger *log.Entry
}

// NewService создаёт сервис нумерации.
func NewService(seq domain.InvoiceSequence, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "invoice")
	}
	return &Service{seq: seq, logger: logger}
}

// Next возвращает следующий номер счёта: уникальный и строго возрастающий
// по всему журналу, в том числе при конкурентных вызовах.
func (s *Service) Next(ctx context.Context) (int64, error) {
	n, err := s.seq.Next(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("invoice sequence unavailable")
		return 0, fmt.Errorf("%w: %v", domain.ErrInvoiceAssignmentFailed, err)
	}
	return n, nil
}

// Format превращает числовой номер в презентационный вид INV-0001.
// Чисто презентационный слой: хранение и сравнение идут по числу.
func Format(n int64) string {
	return fmt.Sprintf("INV-%0*d", numberWidth, n)
}
