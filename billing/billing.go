package billing

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/internal/config"
	"github.com/roiko/ev-server/models"
)

// Invoicer forwards finished sessions to the external invoicing platform.
// Start and Update actions only mark intent; the platform is called on Stop.
type Invoicer struct {
	database internal.Database
	logger   internal.LogHandler
	apiUrl   string
	apiKey   string
	timeout  time.Duration
	mutex    *sync.Mutex
}

func NewInvoicer(conf *config.Config) *Invoicer {
	return &Invoicer{
		apiUrl:  conf.Billing.ApiUrl,
		apiKey:  conf.Billing.ApiKey,
		timeout: time.Duration(conf.Ocpp.PerCallTimeoutMs) * time.Millisecond,
		mutex:   &sync.Mutex{},
	}
}

func (b *Invoicer) SetDatabase(database internal.Database) {
	b.database = database
}

func (b *Invoicer) SetLogger(logger internal.LogHandler) {
	b.logger = logger
}

func (b *Invoicer) Bill(action string, transaction *models.Transaction) error {
	switch action {
	case internal.ActionStart, internal.ActionUpdate:
		// nothing to invoice yet
		return nil
	case internal.ActionStop:
		return b.billTransaction(transaction)
	}
	return nil
}

func (b *Invoicer) billTransaction(transaction *models.Transaction) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	requestUrl := fmt.Sprintf("%s/invoice/%d", b.apiUrl, transaction.Id)
	req, err := http.NewRequest(http.MethodPost, requestUrl, nil)
	if err != nil {
		return fmt.Errorf("billing: create request: %w", err)
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", b.apiKey))

	client := &http.Client{Timeout: b.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("billing: send request: %w", err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("billing: response status %v", resp.StatusCode)
	}
	return nil
}
