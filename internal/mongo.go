package internal

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/roiko/ev-server/internal/config"
	"github.com/roiko/ev-server/models"
)

const (
	collectionLog           = "sys_log"
	collectionTenants       = "tenants"
	collectionStations      = "charging_stations"
	collectionBootRecords   = "boot_records"
	collectionTokens        = "registration_tokens"
	collectionUserTags      = "user_tags"
	collectionUsers         = "users"
	collectionSiteAreas     = "site_areas"
	collectionTransactions  = "transactions"
	collectionMeterValues   = "meter_values"
	collectionConsumptions  = "consumptions"
	collectionCounters      = "counters"
	collectionSubscriptions = "subscriptions"
)

type MongoDB struct {
	ctx           context.Context
	clientOptions *options.ClientOptions
	database      string
}

func NewMongoClient(conf *config.Config) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client := &MongoDB{
		ctx:           context.Background(),
		clientOptions: clientOptions,
		database:      conf.Mongo.Database,
	}
	return client, nil
}

func (m *MongoDB) connect() (*mongo.Client, error) {
	connection, err := mongo.Connect(m.ctx, m.clientOptions)
	if err != nil {
		return nil, err
	}
	return connection, nil
}

func (m *MongoDB) disconnect(connection *mongo.Client) {
	err := connection.Disconnect(m.ctx)
	if err != nil {
		log.Println("mongodb disconnect error;", err)
	}
}

func (m *MongoDB) WriteLogMessage(data Data) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionLog)
	_, err = collection.InsertOne(m.ctx, data)
	return err
}

func (m *MongoDB) GetTenant(id string) (*models.Tenant, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	var tenant models.Tenant
	collection := connection.Database(m.database).Collection(collectionTenants)
	filter := bson.D{{Key: "tenant_id", Value: id}}
	err = collection.FindOne(m.ctx, filter).Decode(&tenant)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

func (m *MongoDB) GetChargingStation(tenant, id string) (*models.ChargingStation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	var station models.ChargingStation
	collection := connection.Database(m.database).Collection(collectionStations)
	filter := bson.D{{Key: "tenant_id", Value: tenant}, {Key: "charge_box_id", Value: id}}
	err = collection.FindOne(m.ctx, filter).Decode(&station)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &station, nil
}

func (m *MongoDB) GetChargingStationsBySiteArea(tenant, siteAreaId string) ([]*models.ChargingStation, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	var stations []*models.ChargingStation
	collection := connection.Database(m.database).Collection(collectionStations)
	filter := bson.D{{Key: "tenant_id", Value: tenant}, {Key: "site_area_id", Value: siteAreaId}, {Key: "deleted", Value: false}}
	cursor, err := collection.Find(m.ctx, filter)
	if err != nil {
		return nil, err
	}
	if err = cursor.All(m.ctx, &stations); err != nil {
		return nil, err
	}
	return stations, nil
}

func (m *MongoDB) SaveChargingStation(station *models.ChargingStation) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	filter := bson.D{{Key: "tenant_id", Value: station.Tenant}, {Key: "charge_box_id", Value: station.Id}}
	update := bson.M{"$set": station}
	opts := options.Update().SetUpsert(true)
	collection := connection.Database(m.database).Collection(collectionStations)
	_, err = collection.UpdateOne(m.ctx, filter, update, opts)
	return err
}

// SaveLastSeen updates only the last_seen field, keeping the hot write small.
func (m *MongoDB) SaveLastSeen(tenant, id string, lastSeen time.Time) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	filter := bson.D{{Key: "tenant_id", Value: tenant}, {Key: "charge_box_id", Value: id}}
	update := bson.M{"$set": bson.M{"last_seen": lastSeen}}
	collection := connection.Database(m.database).Collection(collectionStations)
	_, err = collection.UpdateOne(m.ctx, filter, update)
	return err
}

func (m *MongoDB) WriteBootRecord(record *models.BootRecord) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionBootRecords)
	_, err = collection.InsertOne(m.ctx, record)
	return err
}

func (m *MongoDB) GetRegistrationToken(tenant, token string) (*models.RegistrationToken, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	var registrationToken models.RegistrationToken
	collection := connection.Database(m.database).Collection(collectionTokens)
	filter := bson.D{{Key: "tenant_id", Value: tenant}, {Key: "token", Value: token}}
	err = collection.FindOne(m.ctx, filter).Decode(&registrationToken)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &registrationToken, nil
}

func (m *MongoDB) GetUserTag(tenant, idTag string) (*models.UserTag, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	var userTag models.UserTag
	collection := connection.Database(m.database).Collection(collectionUserTags)
	filter := bson.D{{Key: "tenant_id", Value: tenant}, {Key: "id_tag", Value: idTag}}
	err = collection.FindOne(m.ctx, filter).Decode(&userTag)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &userTag, nil
}

func (m *MongoDB) SaveUserTag(tag *models.UserTag) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	filter := bson.D{{Key: "tenant_id", Value: tag.Tenant}, {Key: "id_tag", Value: tag.IdTag}}
	update := bson.M{"$set": tag}
	opts := options.Update().SetUpsert(true)
	collection := connection.Database(m.database).Collection(collectionUserTags)
	_, err = collection.UpdateOne(m.ctx, filter, update, opts)
	return err
}

func (m *MongoDB) GetUser(tenant, id string) (*models.User, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	var user models.User
	collection := connection.Database(m.database).Collection(collectionUsers)
	filter := bson.D{{Key: "tenant_id", Value: tenant}, {Key: "user_id", Value: id}}
	err = collection.FindOne(m.ctx, filter).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (m *MongoDB) SaveUser(user *models.User) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	filter := bson.D{{Key: "tenant_id", Value: user.Tenant}, {Key: "user_id", Value: user.Id}}
	update := bson.M{"$set": user}
	opts := options.Update().SetUpsert(true)
	collection := connection.Database(m.database).Collection(collectionUsers)
	_, err = collection.UpdateOne(m.ctx, filter, update, opts)
	return err
}

func (m *MongoDB) GetSiteArea(tenant, id string) (*models.SiteArea, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	var siteArea models.SiteArea
	collection := connection.Database(m.database).Collection(collectionSiteAreas)
	filter := bson.D{{Key: "tenant_id", Value: tenant}, {Key: "site_area_id", Value: id}}
	err = collection.FindOne(m.ctx, filter).Decode(&siteArea)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &siteArea, nil
}

// NextTransactionId allocates the next dense transaction id for a tenant
// through an atomic counter increment.
func (m *MongoDB) NextTransactionId(tenant string) (int, error) {
	connection, err := m.connect()
	if err != nil {
		return 0, err
	}
	defer m.disconnect(connection)

	collection := connection.Database(m.database).Collection(collectionCounters)
	filter := bson.D{{Key: "tenant_id", Value: tenant}, {Key: "counter", Value: "transaction"}}
	update := bson.M{"$inc": bson.M{"seq": 1}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var result struct {
		Seq int `bson:"seq"`
	}
	err = collection.FindOneAndUpdate(m.ctx, filter, update, opts).Decode(&result)
	if err != nil {
		return 0, err
	}
	return result.Seq, nil
}

func (m *MongoDB) AddTransaction(transaction *models.Transaction) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionTransactions)
	_, err = collection.InsertOne(m.ctx, transaction)
	return err
}

func (m *MongoDB) UpdateTransaction(transaction *models.Transaction) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	filter := bson.D{{Key: "tenant_id", Value: transaction.Tenant}, {Key: "transaction_id", Value: transaction.Id}}
	update := bson.M{"$set": transaction}
	collection := connection.Database(m.database).Collection(collectionTransactions)
	_, err = collection.UpdateOne(m.ctx, filter, update)
	return err
}

func (m *MongoDB) DeleteTransaction(tenant string, id int) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	filter := bson.D{{Key: "tenant_id", Value: tenant}, {Key: "transaction_id", Value: id}}
	collection := connection.Database(m.database).Collection(collectionTransactions)
	_, err = collection.DeleteOne(m.ctx, filter)
	return err
}

func (m *MongoDB) GetTransaction(tenant string, id int) (*models.Transaction, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	var transaction models.Transaction
	collection := connection.Database(m.database).Collection(collectionTransactions)
	filter := bson.D{{Key: "tenant_id", Value: tenant}, {Key: "transaction_id", Value: id}}
	err = collection.FindOne(m.ctx, filter).Decode(&transaction)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &transaction, nil
}

func (m *MongoDB) GetActiveTransaction(tenant, chargeBoxId string, connectorId int) (*models.Transaction, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	var transaction models.Transaction
	collection := connection.Database(m.database).Collection(collectionTransactions)
	filter := bson.D{
		{Key: "tenant_id", Value: tenant},
		{Key: "charge_box_id", Value: chargeBoxId},
		{Key: "connector_id", Value: connectorId},
		{Key: "stop", Value: bson.D{{Key: "$exists", Value: false}}},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "transaction_id", Value: -1}})
	err = collection.FindOne(m.ctx, filter, opts).Decode(&transaction)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &transaction, nil
}

func (m *MongoDB) GetLastTransaction(tenant, chargeBoxId string, connectorId int) (*models.Transaction, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	var transaction models.Transaction
	collection := connection.Database(m.database).Collection(collectionTransactions)
	filter := bson.D{
		{Key: "tenant_id", Value: tenant},
		{Key: "charge_box_id", Value: chargeBoxId},
		{Key: "connector_id", Value: connectorId},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	err = collection.FindOne(m.ctx, filter, opts).Decode(&transaction)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &transaction, nil
}

func (m *MongoDB) AddMeterValues(values []models.MeterValue) error {
	if len(values) == 0 {
		return nil
	}
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)

	documents := make([]interface{}, 0, len(values))
	for _, value := range values {
		documents = append(documents, value)
	}
	collection := connection.Database(m.database).Collection(collectionMeterValues)
	_, err = collection.InsertMany(m.ctx, documents)
	return err
}

func (m *MongoDB) AddConsumption(consumption *models.Consumption) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionConsumptions)
	_, err = collection.InsertOne(m.ctx, consumption)
	return err
}

func (m *MongoDB) GetConsumptions(tenant string, transactionId int) ([]*models.Consumption, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	var consumptions []*models.Consumption
	collection := connection.Database(m.database).Collection(collectionConsumptions)
	filter := bson.D{{Key: "tenant_id", Value: tenant}, {Key: "transaction_id", Value: transactionId}}
	opts := options.Find().SetSort(bson.D{{Key: "ended_at", Value: 1}})
	cursor, err := collection.Find(m.ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	if err = cursor.All(m.ctx, &consumptions); err != nil {
		return nil, err
	}
	return consumptions, nil
}

func (m *MongoDB) GetSubscriptions() ([]models.UserSubscription, error) {
	connection, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer m.disconnect(connection)

	var subscriptions []models.UserSubscription
	collection := connection.Database(m.database).Collection(collectionSubscriptions)
	cursor, err := collection.Find(m.ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	if err = cursor.All(m.ctx, &subscriptions); err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (m *MongoDB) AddSubscription(subscription *models.UserSubscription) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	collection := connection.Database(m.database).Collection(collectionSubscriptions)
	_, err = collection.InsertOne(m.ctx, subscription)
	return err
}

func (m *MongoDB) DeleteSubscription(subscription *models.UserSubscription) error {
	connection, err := m.connect()
	if err != nil {
		return err
	}
	defer m.disconnect(connection)
	filter := bson.D{{Key: "user_id", Value: subscription.UserID}}
	collection := connection.Database(m.database).Collection(collectionSubscriptions)
	_, err = collection.DeleteOne(m.ctx, filter)
	return err
}
