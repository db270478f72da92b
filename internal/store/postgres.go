package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iurnickita/freightrate/internal/model"
	"github.com/iurnickita/freightrate/internal/store/config"
)

type store struct {
	database *sql.DB
}

var schema = []string{
	// Запросы. Статус и ошибка хранятся в отдельных колонках,
	// меняются только через RequestTransition
	"CREATE TABLE IF NOT EXISTS shipment_request (" +
		" number VARCHAR (20) PRIMARY KEY," +
		" owner VARCHAR (64) NOT NULL," +
		" organization VARCHAR (64) NOT NULL," +
		" status VARCHAR (16) NOT NULL," +
		" error TEXT NOT NULL DEFAULT ''," +
		" data JSONB NOT NULL," +
		" created_at TIMESTAMP NOT NULL," +
		" updated_at TIMESTAMP NOT NULL" +
		" );",
	// Котировки с ценой; флаги ранжирования пересчитываются целиком
	"CREATE TABLE IF NOT EXISTS quote (" +
		" id VARCHAR (36) PRIMARY KEY," +
		" request_number VARCHAR (20) NOT NULL," +
		" status VARCHAR (16) NOT NULL," +
		" total NUMERIC (14, 2) NOT NULL," +
		" cheapest BOOLEAN NOT NULL DEFAULT FALSE," +
		" fastest BOOLEAN NOT NULL DEFAULT FALSE," +
		" recommended BOOLEAN NOT NULL DEFAULT FALSE," +
		" data JSONB NOT NULL," +
		" created_at TIMESTAMP NOT NULL" +
		" );",
	"CREATE INDEX IF NOT EXISTS quote_request_idx ON quote (request_number);",
	"CREATE TABLE IF NOT EXISTS organization (" +
		" id VARCHAR (64) PRIMARY KEY," +
		" data JSONB NOT NULL" +
		" );",
	"CREATE TABLE IF NOT EXISTS markup_profile (" +
		" id VARCHAR (64) PRIMARY KEY," +
		" data JSONB NOT NULL" +
		" );",
	"CREATE TABLE IF NOT EXISTS carrier_account (" +
		" id VARCHAR (64) PRIMARY KEY," +
		" user_code VARCHAR (64) NOT NULL," +
		" data JSONB NOT NULL" +
		" );",
	"CREATE TABLE IF NOT EXISTS carrier_contact (" +
		" id VARCHAR (64) PRIMARY KEY," +
		" data JSONB NOT NULL" +
		" );",
	// Одноразовые ссылки. submitted меняется одной командой UPDATE ... WHERE submitted = FALSE
	"CREATE TABLE IF NOT EXISTS carrier_token (" +
		" value VARCHAR (64) PRIMARY KEY," +
		" request_number VARCHAR (20) NOT NULL," +
		" expires_at TIMESTAMP NOT NULL," +
		" submitted BOOLEAN NOT NULL DEFAULT FALSE," +
		" submitted_at TIMESTAMP," +
		" data JSONB NOT NULL" +
		" );",
	"CREATE TABLE IF NOT EXISTS poll_job (" +
		" id VARCHAR (36) PRIMARY KEY," +
		" request_number VARCHAR (20) NOT NULL," +
		" status VARCHAR (16) NOT NULL," +
		" next_poll_at TIMESTAMP NOT NULL," +
		" data JSONB NOT NULL" +
		" );",
}

func NewPostgresStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	for _, stmt := range schema {
		if _, err = db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}

	return newPostgres(db), nil
}

func newPostgres(db *sql.DB) *store {
	return &store{database: db}
}

func (store *store) Close() error {
	return store.database.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Запросы

func (store *store) RequestPost(ctx context.Context, req model.ShipmentRequest) error {
	data, err := json.Marshal(req.Data)
	if err != nil {
		return err
	}
	_, err = store.database.ExecContext(ctx,
		"INSERT INTO shipment_request (number, owner, organization, status, error, data, created_at, updated_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		req.Number,
		req.Data.Owner.UserCode,
		req.Data.Owner.Organization,
		req.Data.Status,
		req.Data.Error,
		data,
		req.Data.CreatedAt,
		req.Data.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (store *store) RequestGet(ctx context.Context, number string) (model.ShipmentRequest, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT number, status, error, data, updated_at"+
			" FROM shipment_request"+
			" WHERE number = $1",
		number)

	var req model.ShipmentRequest
	var status, reason string
	var data []byte
	var updatedAt time.Time
	err := row.Scan(&req.Number, &status, &reason, &data, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.ShipmentRequest{}, ErrNoRows
		}
		return model.ShipmentRequest{}, err
	}
	if err = json.Unmarshal(data, &req.Data); err != nil {
		return model.ShipmentRequest{}, err
	}
	req.Data.Status = model.RequestStatus(status)
	req.Data.Error = reason
	req.Data.UpdatedAt = updatedAt
	return req, nil
}

func (store *store) RequestTransition(ctx context.Context, number string, to model.RequestStatus, reason string) error {
	sources := model.TransitionSources(to)
	args := []any{to, reason, time.Now(), number}
	placeholders := make([]string, 0, len(sources))
	for _, s := range sources {
		args = append(args, s)
		placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
	}

	res, err := store.database.ExecContext(ctx,
		"UPDATE shipment_request"+
			" SET status = $1, error = $2, updated_at = $3"+
			" WHERE number = $4"+
			"   AND status IN ("+strings.Join(placeholders, ", ")+")",
		args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	// Не обновилось: запроса нет или переход запрещен
	var current string
	err = store.database.QueryRowContext(ctx,
		"SELECT status FROM shipment_request WHERE number = $1", number).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNoRows
		}
		return err
	}
	return transitionError(number, model.RequestStatus(current), to)
}

// Котировки

type quoteData struct {
	Quote   model.ProviderQuote
	Pricing model.Pricing
}

func (store *store) QuotePost(ctx context.Context, quote model.PricedQuote) error {
	data, err := json.Marshal(quoteData{Quote: quote.Quote, Pricing: quote.Pricing})
	if err != nil {
		return err
	}
	_, err = store.database.ExecContext(ctx,
		"INSERT INTO quote (id, request_number, status, total, cheapest, fastest, recommended, data, created_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		quote.Quote.ID,
		quote.Quote.RequestNumber,
		quote.Quote.Status,
		quote.Pricing.Total,
		quote.Flags.Cheapest,
		quote.Flags.Fastest,
		quote.Flags.Recommended,
		data,
		quote.Quote.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (store *store) QuoteGet(ctx context.Context, requestNumber string) ([]model.PricedQuote, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT cheapest, fastest, recommended, data"+
			" FROM quote"+
			" WHERE request_number = $1"+
			" ORDER BY created_at, id",
		requestNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []model.PricedQuote
	for rows.Next() {
		var quote model.PricedQuote
		var data []byte
		err := rows.Scan(&quote.Flags.Cheapest,
			&quote.Flags.Fastest,
			&quote.Flags.Recommended,
			&data)
		if err != nil {
			return nil, err
		}
		var qd quoteData
		if err = json.Unmarshal(data, &qd); err != nil {
			return nil, err
		}
		quote.Quote = qd.Quote
		quote.Pricing = qd.Pricing
		quotes = append(quotes, quote)
	}
	return quotes, rows.Err()
}

func (store *store) QuotePutRanking(ctx context.Context, requestNumber string, quotes []model.PricedQuote) error {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, quote := range quotes {
		_, err = tx.ExecContext(ctx,
			"UPDATE quote"+
				" SET cheapest = $1, fastest = $2, recommended = $3"+
				" WHERE id = $4"+
				"   AND request_number = $5",
			quote.Flags.Cheapest,
			quote.Flags.Fastest,
			quote.Flags.Recommended,
			quote.Quote.ID,
			requestNumber)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Настройки наценки

func (store *store) putDocument(ctx context.Context, table, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = store.database.ExecContext(ctx,
		"INSERT INTO "+table+" (id, data) VALUES ($1, $2)"+
			" ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data",
		id, data)
	return err
}

func (store *store) getDocument(ctx context.Context, table, id string, v any) error {
	var data []byte
	err := store.database.QueryRowContext(ctx,
		"SELECT data FROM "+table+" WHERE id = $1", id).Scan(&data)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNoRows
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (store *store) OrganizationPut(ctx context.Context, org model.Organization) error {
	return store.putDocument(ctx, "organization", org.ID, org)
}

func (store *store) OrganizationGet(ctx context.Context, id string) (model.Organization, error) {
	var org model.Organization
	err := store.getDocument(ctx, "organization", id, &org)
	return org, err
}

func (store *store) MarkupProfilePut(ctx context.Context, profile model.MarkupProfile) error {
	return store.putDocument(ctx, "markup_profile", profile.ID, profile)
}

func (store *store) MarkupProfileGet(ctx context.Context, id string) (model.MarkupProfile, error) {
	var profile model.MarkupProfile
	err := store.getDocument(ctx, "markup_profile", id, &profile)
	return profile, err
}

// Аккаунты и контакты перевозчиков

func (store *store) CarrierAccountPut(ctx context.Context, account model.CarrierAccount) error {
	data, err := json.Marshal(account)
	if err != nil {
		return err
	}
	_, err = store.database.ExecContext(ctx,
		"INSERT INTO carrier_account (id, user_code, data) VALUES ($1, $2, $3)"+
			" ON CONFLICT (id) DO UPDATE SET user_code = EXCLUDED.user_code, data = EXCLUDED.data",
		account.ID, account.UserCode, data)
	return err
}

func (store *store) CarrierAccountGet(ctx context.Context, userCode string) ([]model.CarrierAccount, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT data FROM carrier_account WHERE user_code = $1 ORDER BY id", userCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []model.CarrierAccount
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var account model.CarrierAccount
		if err := json.Unmarshal(data, &account); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (store *store) CarrierContactPut(ctx context.Context, contact model.CarrierContact) error {
	return store.putDocument(ctx, "carrier_contact", contact.ID, contact)
}

func (store *store) CarrierContactGet(ctx context.Context, service model.ServiceType) ([]model.CarrierContact, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT data FROM carrier_contact ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []model.CarrierContact
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var contact model.CarrierContact
		if err := json.Unmarshal(data, &contact); err != nil {
			return nil, err
		}
		if contactServes(contact, service) {
			contacts = append(contacts, contact)
		}
	}
	return contacts, rows.Err()
}

func contactServes(contact model.CarrierContact, service model.ServiceType) bool {
	if !contact.Enabled {
		return false
	}
	for _, s := range contact.Modes {
		if s == service {
			return true
		}
	}
	return false
}

// Одноразовые ссылки

func (store *store) CarrierTokenPost(ctx context.Context, tokens []model.CarrierToken) error {
	tx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, token := range tokens {
		data, err := json.Marshal(token.Carrier)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO carrier_token (value, request_number, expires_at, submitted, data)"+
				" VALUES ($1, $2, $3, FALSE, $4)",
			token.Value,
			token.RequestNumber,
			token.ExpiresAt,
			data)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return err
		}
	}
	return tx.Commit()
}

const tokenColumns = "value, request_number, expires_at, submitted, submitted_at, data"

func scanToken(scan func(dest ...any) error) (model.CarrierToken, error) {
	var token model.CarrierToken
	var submittedAt sql.NullTime
	var data []byte
	err := scan(&token.Value,
		&token.RequestNumber,
		&token.ExpiresAt,
		&token.Submitted,
		&submittedAt,
		&data)
	if err != nil {
		return model.CarrierToken{}, err
	}
	if submittedAt.Valid {
		token.SubmittedAt = submittedAt.Time
	}
	if err = json.Unmarshal(data, &token.Carrier); err != nil {
		return model.CarrierToken{}, err
	}
	return token, nil
}

func (store *store) CarrierTokenGet(ctx context.Context, value string) (model.CarrierToken, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM carrier_token WHERE value = $1", value)
	token, err := scanToken(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.CarrierToken{}, ErrNoRows
		}
		return model.CarrierToken{}, err
	}
	return token, nil
}

func (store *store) CarrierTokenGetByRequest(ctx context.Context, requestNumber string) ([]model.CarrierToken, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT "+tokenColumns+" FROM carrier_token WHERE request_number = $1 ORDER BY value", requestNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []model.CarrierToken
	for rows.Next() {
		token, err := scanToken(rows.Scan)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func (store *store) CarrierTokenConsume(ctx context.Context, value string, at time.Time) error {
	res, err := store.database.ExecContext(ctx,
		"UPDATE carrier_token"+
			" SET submitted = TRUE, submitted_at = $1"+
			" WHERE value = $2"+
			"   AND submitted = FALSE"+
			"   AND expires_at > $1",
		at, value)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	token, err := store.CarrierTokenGet(ctx, value)
	if err != nil {
		return err
	}
	return consumeError(token, at)
}

func (store *store) CarrierTokenRelease(ctx context.Context, value string) error {
	res, err := store.database.ExecContext(ctx,
		"UPDATE carrier_token"+
			" SET submitted = FALSE, submitted_at = NULL"+
			" WHERE value = $1",
		value)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRows
	}
	return nil
}

func (store *store) CarrierTokenBatches(ctx context.Context) ([]model.TokenBatch, error) {
	rows, err := store.database.QueryContext(ctx,
		"SELECT t.request_number, MAX(t.expires_at)"+
			" FROM carrier_token AS t"+
			" JOIN shipment_request AS r ON r.number = t.request_number"+
			" WHERE r.status = $1"+
			" GROUP BY t.request_number",
		model.RequestStatusProcessing)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []model.TokenBatch
	for rows.Next() {
		var batch model.TokenBatch
		if err := rows.Scan(&batch.RequestNumber, &batch.Deadline); err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

// Задания опроса

func (store *store) PollJobPost(ctx context.Context, job model.PollJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = store.database.ExecContext(ctx,
		"INSERT INTO poll_job (id, request_number, status, next_poll_at, data)"+
			" VALUES ($1, $2, $3, $4, $5)",
		job.ID, job.RequestNumber, job.Status, job.NextPollAt, data)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (store *store) PollJobPut(ctx context.Context, job model.PollJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	res, err := store.database.ExecContext(ctx,
		"UPDATE poll_job"+
			" SET status = $1, next_poll_at = $2, data = $3"+
			" WHERE id = $4",
		job.Status, job.NextPollAt, data, job.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRows
	}
	return nil
}

func (store *store) pollJobQuery(ctx context.Context, query string, args ...any) ([]model.PollJob, error) {
	rows, err := store.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []model.PollJob
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var job model.PollJob
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (store *store) PollJobGetPending(ctx context.Context) ([]model.PollJob, error) {
	return store.pollJobQuery(ctx,
		"SELECT data FROM poll_job WHERE status = $1 ORDER BY next_poll_at",
		model.PollJobPending)
}

func (store *store) PollJobGetByRequest(ctx context.Context, requestNumber string) ([]model.PollJob, error) {
	return store.pollJobQuery(ctx,
		"SELECT data FROM poll_job WHERE request_number = $1 ORDER BY id",
		requestNumber)
}
