package store

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/store/config"
)

const (
	collRequests      = "shipment_request"
	collQuotes        = "quote"
	collOrganizations = "organization"
	collProfiles      = "markup_profile"
	collAccounts      = "carrier_account"
	collContacts      = "carrier_contact"
	collTokens        = "carrier_token"
	collJobs          = "poll_job"
)

type mongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// Документы

type requestDoc struct {
	ID   string                    `bson:"_id"`
	Data model.ShipmentRequestData `bson:"data"`
}

type quoteDoc struct {
	ID            string              `bson:"_id"`
	RequestNumber string              `bson:"request_number"`
	CreatedAt     time.Time           `bson:"created_at"`
	Quote         model.ProviderQuote `bson:"quote"`
	Pricing       model.Pricing       `bson:"pricing"`
	Flags         model.RankFlags     `bson:"flags"`
}

type accountDoc struct {
	ID       string               `bson:"_id"`
	UserCode string               `bson:"user_code"`
	Account  model.CarrierAccount `bson:"data"`
}

type tokenDoc struct {
	ID            string               `bson:"_id"`
	RequestNumber string               `bson:"request_number"`
	IssuedAt      time.Time            `bson:"issued_at"`
	ExpiresAt     time.Time            `bson:"expires_at"`
	Submitted     bool                 `bson:"submitted"`
	SubmittedAt   time.Time            `bson:"submitted_at"`
	Carrier       model.CarrierContact `bson:"carrier"`
}

func (d tokenDoc) token() model.CarrierToken {
	return model.CarrierToken{
		Value:         d.ID,
		RequestNumber: d.RequestNumber,
		Carrier:       d.Carrier,
		IssuedAt:      d.IssuedAt,
		ExpiresAt:     d.ExpiresAt,
		Submitted:     d.Submitted,
		SubmittedAt:   d.SubmittedAt,
	}
}

type jobDoc struct {
	ID            string              `bson:"_id"`
	RequestNumber string              `bson:"request_number"`
	Status        model.PollJobStatus `bson:"status"`
	NextPollAt    time.Time           `bson:"next_poll_at"`
	Job           model.PollJob       `bson:"data"`
}

// Деньги храним строкой, чтобы не терять точность
var decimalType = reflect.TypeOf(decimal.Decimal{})

func mongoRegistry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(decimalType, bsoncodec.ValueEncoderFunc(
		func(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
			return vw.WriteString(val.Interface().(decimal.Decimal).String())
		}))
	reg.RegisterTypeDecoder(decimalType, bsoncodec.ValueDecoderFunc(
		func(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
			s, err := vr.ReadString()
			if err != nil {
				return err
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				return err
			}
			val.Set(reflect.ValueOf(d))
			return nil
		}))
	return reg
}

func NewMongoStore(cfg config.Config) (Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI).SetRegistry(mongoRegistry()))
	if err != nil {
		return nil, err
	}
	if err = client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}

	s := &mongoStore{client: client, db: client.Database(cfg.MongoDB)}

	indexes := map[string]string{
		collQuotes:   "request_number",
		collTokens:   "request_number",
		collJobs:     "status",
		collAccounts: "user_code",
	}
	for coll, key := range indexes {
		_, err = s.db.Collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: key, Value: 1}}})
		if err != nil {
			client.Disconnect(ctx)
			return nil, err
		}
	}
	return s, nil
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func mongoInsertError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return ErrAlreadyExists
	}
	return err
}

func mongoFindError(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNoRows
	}
	return err
}

// Запросы

func (s *mongoStore) RequestPost(ctx context.Context, req model.ShipmentRequest) error {
	_, err := s.db.Collection(collRequests).InsertOne(ctx, requestDoc{ID: req.Number, Data: req.Data})
	return mongoInsertError(err)
}

func (s *mongoStore) RequestGet(ctx context.Context, number string) (model.ShipmentRequest, error) {
	var doc requestDoc
	err := s.db.Collection(collRequests).FindOne(ctx, bson.M{"_id": number}).Decode(&doc)
	if err != nil {
		return model.ShipmentRequest{}, mongoFindError(err)
	}
	return model.ShipmentRequest{Number: doc.ID, Data: doc.Data}, nil
}

func (s *mongoStore) RequestTransition(ctx context.Context, number string, to model.RequestStatus, reason string) error {
	filter := bson.M{
		"_id":         number,
		"data.status": bson.M{"$in": model.TransitionSources(to)},
	}
	update := bson.M{"$set": bson.M{
		"data.status":    to,
		"data.error":     reason,
		"data.updatedat": time.Now(),
	}}
	res, err := s.db.Collection(collRequests).UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	req, err := s.RequestGet(ctx, number)
	if err != nil {
		return err
	}
	return transitionError(number, req.Data.Status, to)
}

// Котировки

func (s *mongoStore) QuotePost(ctx context.Context, quote model.PricedQuote) error {
	_, err := s.db.Collection(collQuotes).InsertOne(ctx, quoteDoc{
		ID:            quote.Quote.ID,
		RequestNumber: quote.Quote.RequestNumber,
		CreatedAt:     quote.Quote.CreatedAt,
		Quote:         quote.Quote,
		Pricing:       quote.Pricing,
		Flags:         quote.Flags,
	})
	return mongoInsertError(err)
}

func (s *mongoStore) QuoteGet(ctx context.Context, requestNumber string) ([]model.PricedQuote, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(collQuotes).Find(ctx, bson.M{"request_number": requestNumber}, opts)
	if err != nil {
		return nil, err
	}
	var docs []quoteDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	quotes := make([]model.PricedQuote, 0, len(docs))
	for _, d := range docs {
		quotes = append(quotes, model.PricedQuote{Quote: d.Quote, Pricing: d.Pricing, Flags: d.Flags})
	}
	return quotes, nil
}

func (s *mongoStore) QuotePutRanking(ctx context.Context, requestNumber string, quotes []model.PricedQuote) error {
	if len(quotes) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(quotes))
	for _, q := range quotes {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": q.Quote.ID, "request_number": requestNumber}).
			SetUpdate(bson.M{"$set": bson.M{"flags": q.Flags}}))
	}
	_, err := s.db.Collection(collQuotes).BulkWrite(ctx, models)
	return err
}

// Настройки наценки

func (s *mongoStore) replace(ctx context.Context, coll, id string, doc any) error {
	_, err := s.db.Collection(coll).ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	return err
}

type organizationDoc struct {
	ID  string             `bson:"_id"`
	Org model.Organization `bson:"data"`
}

func (s *mongoStore) OrganizationPut(ctx context.Context, org model.Organization) error {
	return s.replace(ctx, collOrganizations, org.ID, organizationDoc{ID: org.ID, Org: org})
}

func (s *mongoStore) OrganizationGet(ctx context.Context, id string) (model.Organization, error) {
	var doc organizationDoc
	err := s.db.Collection(collOrganizations).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		return model.Organization{}, mongoFindError(err)
	}
	return doc.Org, nil
}

type profileDoc struct {
	ID      string              `bson:"_id"`
	Profile model.MarkupProfile `bson:"data"`
}

func (s *mongoStore) MarkupProfilePut(ctx context.Context, profile model.MarkupProfile) error {
	return s.replace(ctx, collProfiles, profile.ID, profileDoc{ID: profile.ID, Profile: profile})
}

func (s *mongoStore) MarkupProfileGet(ctx context.Context, id string) (model.MarkupProfile, error) {
	var doc profileDoc
	err := s.db.Collection(collProfiles).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		return model.MarkupProfile{}, mongoFindError(err)
	}
	return doc.Profile, nil
}

// Аккаунты и контакты перевозчиков

func (s *mongoStore) CarrierAccountPut(ctx context.Context, account model.CarrierAccount) error {
	return s.replace(ctx, collAccounts, account.ID, accountDoc{ID: account.ID, UserCode: account.UserCode, Account: account})
}

func (s *mongoStore) CarrierAccountGet(ctx context.Context, userCode string) ([]model.CarrierAccount, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(collAccounts).Find(ctx, bson.M{"user_code": userCode}, opts)
	if err != nil {
		return nil, err
	}
	var docs []accountDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	var accounts []model.CarrierAccount
	for _, d := range docs {
		accounts = append(accounts, d.Account)
	}
	return accounts, nil
}

type contactDoc struct {
	ID      string               `bson:"_id"`
	Contact model.CarrierContact `bson:"data"`
}

func (s *mongoStore) CarrierContactPut(ctx context.Context, contact model.CarrierContact) error {
	return s.replace(ctx, collContacts, contact.ID, contactDoc{ID: contact.ID, Contact: contact})
}

func (s *mongoStore) CarrierContactGet(ctx context.Context, service model.ServiceType) ([]model.CarrierContact, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(collContacts).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []contactDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	var contacts []model.CarrierContact
	for _, d := range docs {
		if contactServes(d.Contact, service) {
			contacts = append(contacts, d.Contact)
		}
	}
	return contacts, nil
}

// Одноразовые ссылки

func (s *mongoStore) CarrierTokenPost(ctx context.Context, tokens []model.CarrierToken) error {
	if len(tokens) == 0 {
		return nil
	}
	docs := make([]any, 0, len(tokens))
	for _, t := range tokens {
		docs = append(docs, tokenDoc{
			ID:            t.Value,
			RequestNumber: t.RequestNumber,
			IssuedAt:      t.IssuedAt,
			ExpiresAt:     t.ExpiresAt,
			Carrier:       t.Carrier,
		})
	}
	_, err := s.db.Collection(collTokens).InsertMany(ctx, docs)
	return mongoInsertError(err)
}

func (s *mongoStore) CarrierTokenGet(ctx context.Context, value string) (model.CarrierToken, error) {
	var doc tokenDoc
	err := s.db.Collection(collTokens).FindOne(ctx, bson.M{"_id": value}).Decode(&doc)
	if err != nil {
		return model.CarrierToken{}, mongoFindError(err)
	}
	return doc.token(), nil
}

func (s *mongoStore) CarrierTokenGetByRequest(ctx context.Context, requestNumber string) ([]model.CarrierToken, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(collTokens).Find(ctx, bson.M{"request_number": requestNumber}, opts)
	if err != nil {
		return nil, err
	}
	var docs []tokenDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	var tokens []model.CarrierToken
	for _, d := range docs {
		tokens = append(tokens, d.token())
	}
	return tokens, nil
}

func (s *mongoStore) CarrierTokenConsume(ctx context.Context, value string, at time.Time) error {
	res, err := s.db.Collection(collTokens).UpdateOne(ctx,
		bson.M{"_id": value, "submitted": false, "expires_at": bson.M{"$gt": at}},
		bson.M{"$set": bson.M{"submitted": true, "submitted_at": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	token, err := s.CarrierTokenGet(ctx, value)
	if err != nil {
		return err
	}
	return consumeError(token, at)
}

func (s *mongoStore) CarrierTokenRelease(ctx context.Context, value string) error {
	res, err := s.db.Collection(collTokens).UpdateOne(ctx,
		bson.M{"_id": value},
		bson.M{"$set": bson.M{"submitted": false, "submitted_at": time.Time{}}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNoRows
	}
	return nil
}

func (s *mongoStore) CarrierTokenBatches(ctx context.Context) ([]model.TokenBatch, error) {
	cursor, err := s.db.Collection(collRequests).Find(ctx,
		bson.M{"data.status": model.RequestStatusProcessing},
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var reqs []struct {
		ID string `bson:"_id"`
	}
	if err = cursor.All(ctx, &reqs); err != nil {
		return nil, err
	}

	var batches []model.TokenBatch
	for _, r := range reqs {
		var doc tokenDoc
		err := s.db.Collection(collTokens).FindOne(ctx,
			bson.M{"request_number": r.ID},
			options.FindOne().SetSort(bson.D{{Key: "expires_at", Value: -1}})).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			continue
		}
		if err != nil {
			return nil, err
		}
		batches = append(batches, model.TokenBatch{RequestNumber: r.ID, Deadline: doc.ExpiresAt})
	}
	return batches, nil
}

// Задания опроса

func newJobDoc(job model.PollJob) jobDoc {
	return jobDoc{
		ID:            job.ID,
		RequestNumber: job.RequestNumber,
		Status:        job.Status,
		NextPollAt:    job.NextPollAt,
		Job:           job,
	}
}

func (s *mongoStore) PollJobPost(ctx context.Context, job model.PollJob) error {
	_, err := s.db.Collection(collJobs).InsertOne(ctx, newJobDoc(job))
	return mongoInsertError(err)
}

func (s *mongoStore) PollJobPut(ctx context.Context, job model.PollJob) error {
	res, err := s.db.Collection(collJobs).ReplaceOne(ctx, bson.M{"_id": job.ID}, newJobDoc(job))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNoRows
	}
	return nil
}

func (s *mongoStore) findJobs(ctx context.Context, filter bson.M, sort bson.D) ([]model.PollJob, error) {
	cursor, err := s.db.Collection(collJobs).Find(ctx, filter, options.Find().SetSort(sort))
	if err != nil {
		return nil, err
	}
	var docs []jobDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	var jobs []model.PollJob
	for _, d := range docs {
		jobs = append(jobs, d.Job)
	}
	return jobs, nil
}

func (s *mongoStore) PollJobGetPending(ctx context.Context) ([]model.PollJob, error) {
	return s.findJobs(ctx, bson.M{"status": model.PollJobPending}, bson.D{{Key: "next_poll_at", Value: 1}})
}

func (s *mongoStore) PollJobGetByRequest(ctx context.Context, requestNumber string) ([]model.PollJob, error) {
	return s.findJobs(ctx, bson.M{"request_number": requestNumber}, bson.D{{Key: "_id", Value: 1}})
}
