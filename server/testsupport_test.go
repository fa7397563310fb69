package server

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roiko/ev-server/internal"
	"github.com/roiko/ev-server/internal/config"
	"github.com/roiko/ev-server/models"
	"github.com/roiko/ev-server/ocpp"
	"github.com/roiko/ev-server/pricing"
	"github.com/roiko/ev-server/template"
)

// memoryDB is the storage double used by the handler tests.
type memoryDB struct {
	mux           sync.Mutex
	tenants       map[string]*models.Tenant
	stations      map[string]*models.ChargingStation
	tokens        map[string]*models.RegistrationToken
	tags          map[string]*models.UserTag
	users         map[string]*models.User
	siteAreas     map[string]*models.SiteArea
	transactions  map[int]*models.Transaction
	meterValues   []models.MeterValue
	consumptions  []*models.Consumption
	bootRecords   []*models.BootRecord
	subscriptions []models.UserSubscription
	counter       int
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		tenants:      map[string]*models.Tenant{},
		stations:     map[string]*models.ChargingStation{},
		tokens:       map[string]*models.RegistrationToken{},
		tags:         map[string]*models.UserTag{},
		users:        map[string]*models.User{},
		siteAreas:    map[string]*models.SiteArea{},
		transactions: map[int]*models.Transaction{},
	}
}

func stationKey(tenant, id string) string {
	return tenant + "/" + id
}

func (m *memoryDB) WriteLogMessage(internal.Data) error { return nil }

func (m *memoryDB) GetTenant(id string) (*models.Tenant, error) {
	return m.tenants[id], nil
}

func (m *memoryDB) GetChargingStation(tenant, id string) (*models.ChargingStation, error) {
	return m.stations[stationKey(tenant, id)], nil
}

func (m *memoryDB) GetChargingStationsBySiteArea(tenant, siteAreaId string) ([]*models.ChargingStation, error) {
	var result []*models.ChargingStation
	for _, station := range m.stations {
		if station.Tenant == tenant && station.SiteAreaId == siteAreaId {
			result = append(result, station)
		}
	}
	return result, nil
}

func (m *memoryDB) SaveChargingStation(station *models.ChargingStation) error {
	m.stations[stationKey(station.Tenant, station.Id)] = station
	return nil
}

func (m *memoryDB) SaveLastSeen(tenant, id string, lastSeen time.Time) error {
	if station := m.stations[stationKey(tenant, id)]; station != nil {
		station.LastSeen = lastSeen
	}
	return nil
}

func (m *memoryDB) WriteBootRecord(record *models.BootRecord) error {
	m.bootRecords = append(m.bootRecords, record)
	return nil
}

func (m *memoryDB) GetRegistrationToken(tenant, token string) (*models.RegistrationToken, error) {
	return m.tokens[tenant+"/"+token], nil
}

func (m *memoryDB) GetUserTag(tenant, idTag string) (*models.UserTag, error) {
	return m.tags[tenant+"/"+idTag], nil
}

func (m *memoryDB) SaveUserTag(tag *models.UserTag) error {
	m.tags[tag.Tenant+"/"+tag.IdTag] = tag
	return nil
}

func (m *memoryDB) GetUser(tenant, id string) (*models.User, error) {
	return m.users[tenant+"/"+id], nil
}

func (m *memoryDB) SaveUser(user *models.User) error {
	m.users[user.Tenant+"/"+user.Id] = user
	return nil
}

func (m *memoryDB) GetSiteArea(tenant, id string) (*models.SiteArea, error) {
	return m.siteAreas[tenant+"/"+id], nil
}

func (m *memoryDB) NextTransactionId(string) (int, error) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.counter++
	return m.counter, nil
}

func (m *memoryDB) AddTransaction(transaction *models.Transaction) error {
	if _, ok := m.transactions[transaction.Id]; ok {
		return fmt.Errorf("transaction %d already exists", transaction.Id)
	}
	m.transactions[transaction.Id] = transaction
	return nil
}

func (m *memoryDB) UpdateTransaction(transaction *models.Transaction) error {
	m.transactions[transaction.Id] = transaction
	return nil
}

func (m *memoryDB) DeleteTransaction(_ string, id int) error {
	delete(m.transactions, id)
	return nil
}

func (m *memoryDB) GetTransaction(_ string, id int) (*models.Transaction, error) {
	return m.transactions[id], nil
}

func (m *memoryDB) GetActiveTransaction(tenant, chargeBoxId string, connectorId int) (*models.Transaction, error) {
	var found *models.Transaction
	for _, transaction := range m.transactions {
		if transaction.Tenant == tenant && transaction.ChargeBoxId == chargeBoxId &&
			transaction.ConnectorId == connectorId && transaction.Stop == nil {
			if found == nil || transaction.Id > found.Id {
				found = transaction
			}
		}
	}
	return found, nil
}

func (m *memoryDB) GetLastTransaction(tenant, chargeBoxId string, connectorId int) (*models.Transaction, error) {
	var found *models.Transaction
	for _, transaction := range m.transactions {
		if transaction.Tenant == tenant && transaction.ChargeBoxId == chargeBoxId &&
			transaction.ConnectorId == connectorId {
			if found == nil || transaction.Id > found.Id {
				found = transaction
			}
		}
	}
	return found, nil
}

func (m *memoryDB) AddMeterValues(values []models.MeterValue) error {
	m.meterValues = append(m.meterValues, values...)
	return nil
}

func (m *memoryDB) AddConsumption(consumption *models.Consumption) error {
	m.consumptions = append(m.consumptions, consumption)
	return nil
}

func (m *memoryDB) GetConsumptions(_ string, transactionId int) ([]*models.Consumption, error) {
	var result []*models.Consumption
	for _, consumption := range m.consumptions {
		if consumption.TransactionId == transactionId {
			result = append(result, consumption)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EndedAt.Before(result[j].EndedAt) })
	return result, nil
}

func (m *memoryDB) GetSubscriptions() ([]models.UserSubscription, error) {
	return m.subscriptions, nil
}

func (m *memoryDB) AddSubscription(subscription *models.UserSubscription) error {
	m.subscriptions = append(m.subscriptions, *subscription)
	return nil
}

func (m *memoryDB) DeleteSubscription(*models.UserSubscription) error { return nil }

// memoryLocks always grants, tracking names for assertions.
type memoryLocks struct {
	mux  sync.Mutex
	held map[string]bool
}

func newMemoryLocks() *memoryLocks {
	return &memoryLocks{held: map[string]bool{}}
}

func (l *memoryLocks) Acquire(name string, _ time.Duration) (*internal.LockHandle, error) {
	l.mux.Lock()
	defer l.mux.Unlock()
	if l.held[name] {
		return nil, nil
	}
	l.held[name] = true
	return &internal.LockHandle{Name: name, Token: "test"}, nil
}

func (l *memoryLocks) Release(handle *internal.LockHandle) error {
	if handle == nil {
		return nil
	}
	l.mux.Lock()
	defer l.mux.Unlock()
	delete(l.held, handle.Name)
	return nil
}

// quietLogger drops everything; tests assert on state, not logs.
type quietLogger struct{}

func (quietLogger) FeatureEvent(string, string, string) {}
func (quietLogger) Debug(string)                        {}
func (quietLogger) Warn(string)                         {}
func (quietLogger) Error(string, error)                 {}
func (quietLogger) RawDataEvent(string, string)         {}

// eventRecorder collects emitted events by type.
type eventRecorder struct {
	mux    sync.Mutex
	events []*internal.EventMessage
}

func (r *eventRecorder) record(event *internal.EventMessage) {
	r.mux.Lock()
	defer r.mux.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) byType(eventType string) []*internal.EventMessage {
	r.mux.Lock()
	defer r.mux.Unlock()
	var result []*internal.EventMessage
	for _, event := range r.events {
		if event.Type == eventType {
			result = append(result, event)
		}
	}
	return result
}

func (r *eventRecorder) OnStationRegistered(e *internal.EventMessage)   { r.record(e) }
func (r *eventRecorder) OnSessionStart(e *internal.EventMessage)        { r.record(e) }
func (r *eventRecorder) OnEndOfCharge(e *internal.EventMessage)         { r.record(e) }
func (r *eventRecorder) OnOptimalChargeReached(e *internal.EventMessage) { r.record(e) }
func (r *eventRecorder) OnSessionEnd(e *internal.EventMessage)          { r.record(e) }
func (r *eventRecorder) OnSignedSessionEnd(e *internal.EventMessage)    { r.record(e) }
func (r *eventRecorder) OnStatusError(e *internal.EventMessage)         { r.record(e) }
func (r *eventRecorder) OnAuthorize(e *internal.EventMessage)           { r.record(e) }

func testConfig() *config.Config {
	conf := &config.Config{}
	conf.Ocpp.HeartbeatIntervalOcppJSecs = 60
	conf.Ocpp.HeartbeatIntervalOcppSSecs = 300
	conf.Ocpp.BootRejectRetrySecs = 30
	conf.Ocpp.MaxLastSeenIntervalSecs = 540
	conf.Ocpp.PerCallTimeoutMs = 1000
	conf.Pricing.Enabled = true
	conf.Pricing.PriceKwh = 0.25
	conf.Pricing.Currency = "EUR"
	conf.Notifications.EndOfChargeEnabled = true
	conf.Notifications.BeforeEndOfChargeEnabled = true
	conf.Notifications.BeforeEndOfChargePercent = 85
	return conf
}

type testEnv struct {
	handler *SystemHandler
	db      *memoryDB
	locks   *memoryLocks
	events  *eventRecorder
	clock   time.Time
}

var testEpoch = time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC)

func newTestEnv() *testEnv {
	db := newMemoryDB()
	locks := newMemoryLocks()
	events := &eventRecorder{}
	conf := testConfig()

	handler := NewSystemHandler(conf)
	handler.SetDatabase(db)
	handler.SetLockService(locks)
	handler.SetLogger(quietLogger{})
	handler.SetTemplates(template.NewCatalog())
	handler.SetClassifier(NewInactivityClassifier(db))
	handler.SetPricing(pricing.NewSimple(conf))
	handler.SetSender(acceptAllSender{})
	handler.AddEventListener(events)
	if err := handler.OnStart(); err != nil {
		panic(err)
	}

	env := &testEnv{handler: handler, db: db, locks: locks, events: events, clock: testEpoch}
	handler.now = func() time.Time { return env.clock }

	db.tenants["t1"] = &models.Tenant{Id: "t1", Name: "Test", IsEnabled: true}
	return env
}

// acceptAllSender answers every configuration push with Accepted.
type acceptAllSender struct{}

func (acceptAllSender) SendRequest(string, string, ocpp.Request) (string, error) {
	return "", nil
}

func (acceptAllSender) SendRequestWait(string, string, ocpp.Request) (string, error) {
	return `{"status":"Accepted"}`, nil
}

func (env *testEnv) ctx(chargeBoxId string) *CallContext {
	return &CallContext{
		Tenant:        "t1",
		ChargeBoxId:   chargeBoxId,
		RemoteAddr:    "10.0.0.7:51234",
		OcppVersion:   "1.6",
		OcppTransport: "JSON",
	}
}

func (env *testEnv) seedStation(id string) *models.ChargingStation {
	station := &models.ChargingStation{
		Id:                 id,
		Tenant:             "t1",
		Vendor:             "ABB",
		Model:              "TAC-W11-G5-R-0",
		SerialNumber:       "SN-001",
		FirmwareVersion:    "1.0.0",
		OcppVersion:        "1.6",
		OcppTransport:      "JSON",
		RegistrationStatus: "Accepted",
		CurrentType:        "AC",
		Connectors: []*models.Connector{
			{Id: 1, Status: models.ConnectorStatusAvailable, Voltage: 230, NumberOfPhases: 3, Power: 11000},
		},
	}
	env.db.stations[stationKey("t1", id)] = station
	return station
}

func (env *testEnv) seedTag(idTag string) *models.UserTag {
	tag := &models.UserTag{
		Tenant:    "t1",
		IdTag:     idTag,
		Username:  "alice",
		IsEnabled: true,
	}
	env.db.tags["t1/"+idTag] = tag
	return tag
}

func (env *testEnv) advance(d time.Duration) {
	env.clock = env.clock.Add(d)
}
