package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iurnickita/freightrate/internal/model"
)

// memStore keeps everything in process memory. Used by tests and DB_TYPE=memory.
type memStore struct {
	mu            sync.Mutex
	requests      map[string]model.ShipmentRequest
	quotes        map[string][]model.PricedQuote
	organizations map[string]model.Organization
	profiles      map[string]model.MarkupProfile
	accounts      map[string]model.CarrierAccount
	contacts      map[string]model.CarrierContact
	tokens        map[string]model.CarrierToken
	jobs          map[string]model.PollJob
}

func NewMemoryStore() Store {
	return &memStore{
		requests:      make(map[string]model.ShipmentRequest),
		quotes:        make(map[string][]model.PricedQuote),
		organizations: make(map[string]model.Organization),
		profiles:      make(map[string]model.MarkupProfile),
		accounts:      make(map[string]model.CarrierAccount),
		contacts:      make(map[string]model.CarrierContact),
		tokens:        make(map[string]model.CarrierToken),
		jobs:          make(map[string]model.PollJob),
	}
}

func (s *memStore) Close() error {
	return nil
}

func (s *memStore) RequestPost(_ context.Context, req model.ShipmentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.Number]; ok {
		return ErrAlreadyExists
	}
	s.requests[req.Number] = req
	return nil
}

func (s *memStore) RequestGet(_ context.Context, number string) (model.ShipmentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[number]
	if !ok {
		return model.ShipmentRequest{}, ErrNoRows
	}
	return req, nil
}

func (s *memStore) RequestTransition(_ context.Context, number string, to model.RequestStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[number]
	if !ok {
		return ErrNoRows
	}
	if !model.CanTransition(req.Data.Status, to) {
		return transitionError(number, req.Data.Status, to)
	}
	req.Data.Status = to
	req.Data.Error = reason
	req.Data.UpdatedAt = time.Now()
	s.requests[number] = req
	return nil
}

func (s *memStore) QuotePost(_ context.Context, quote model.PricedQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.quotes[quote.Quote.RequestNumber] {
		if q.Quote.ID == quote.Quote.ID {
			return ErrAlreadyExists
		}
	}
	s.quotes[quote.Quote.RequestNumber] = append(s.quotes[quote.Quote.RequestNumber], quote)
	return nil
}

func (s *memStore) QuoteGet(_ context.Context, requestNumber string) ([]model.PricedQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	quotes := s.quotes[requestNumber]
	out := make([]model.PricedQuote, len(quotes))
	copy(out, quotes)
	return out, nil
}

func (s *memStore) QuotePutRanking(_ context.Context, requestNumber string, quotes []model.PricedQuote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	flags := make(map[string]model.RankFlags, len(quotes))
	for _, q := range quotes {
		flags[q.Quote.ID] = q.Flags
	}
	stored := s.quotes[requestNumber]
	for i := range stored {
		if f, ok := flags[stored[i].Quote.ID]; ok {
			stored[i].Flags = f
		}
	}
	return nil
}

func (s *memStore) OrganizationPut(_ context.Context, org model.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.organizations[org.ID] = org
	return nil
}

func (s *memStore) OrganizationGet(_ context.Context, id string) (model.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.organizations[id]
	if !ok {
		return model.Organization{}, ErrNoRows
	}
	return org, nil
}

func (s *memStore) MarkupProfilePut(_ context.Context, profile model.MarkupProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.ID] = profile
	return nil
}

func (s *memStore) MarkupProfileGet(_ context.Context, id string) (model.MarkupProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[id]
	if !ok {
		return model.MarkupProfile{}, ErrNoRows
	}
	return profile, nil
}

func (s *memStore) CarrierAccountPut(_ context.Context, account model.CarrierAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[account.ID] = account
	return nil
}

func (s *memStore) CarrierAccountGet(_ context.Context, userCode string) ([]model.CarrierAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var accounts []model.CarrierAccount
	for _, a := range s.accounts {
		if a.UserCode == userCode {
			accounts = append(accounts, a)
		}
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

func (s *memStore) CarrierContactPut(_ context.Context, contact model.CarrierContact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[contact.ID] = contact
	return nil
}

func (s *memStore) CarrierContactGet(_ context.Context, service model.ServiceType) ([]model.CarrierContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var contacts []model.CarrierContact
	for _, c := range s.contacts {
		if contactServes(c, service) {
			contacts = append(contacts, c)
		}
	}
	sort.Slice(contacts, func(i, j int) bool { return contacts[i].ID < contacts[j].ID })
	return contacts, nil
}

func (s *memStore) CarrierTokenPost(_ context.Context, tokens []model.CarrierToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tokens {
		if _, ok := s.tokens[t.Value]; ok {
			return ErrAlreadyExists
		}
	}
	for _, t := range tokens {
		s.tokens[t.Value] = t
	}
	return nil
}

func (s *memStore) CarrierTokenGet(_ context.Context, value string) (model.CarrierToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[value]
	if !ok {
		return model.CarrierToken{}, ErrNoRows
	}
	return t, nil
}

func (s *memStore) CarrierTokenGetByRequest(_ context.Context, requestNumber string) ([]model.CarrierToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tokens []model.CarrierToken
	for _, t := range s.tokens {
		if t.RequestNumber == requestNumber {
			tokens = append(tokens, t)
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Value < tokens[j].Value })
	return tokens, nil
}

func (s *memStore) CarrierTokenConsume(_ context.Context, value string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[value]
	if !ok {
		return ErrNoRows
	}
	if t.Submitted || !at.Before(t.ExpiresAt) {
		return consumeError(t, at)
	}
	t.Submitted = true
	t.SubmittedAt = at
	s.tokens[value] = t
	return nil
}

func (s *memStore) CarrierTokenRelease(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[value]
	if !ok {
		return ErrNoRows
	}
	t.Submitted = false
	t.SubmittedAt = time.Time{}
	s.tokens[value] = t
	return nil
}

func (s *memStore) CarrierTokenBatches(_ context.Context) ([]model.TokenBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deadlines := make(map[string]time.Time)
	for _, t := range s.tokens {
		req, ok := s.requests[t.RequestNumber]
		if !ok || req.Data.Status != model.RequestStatusProcessing {
			continue
		}
		if d, ok := deadlines[t.RequestNumber]; !ok || t.ExpiresAt.After(d) {
			deadlines[t.RequestNumber] = t.ExpiresAt
		}
	}
	batches := make([]model.TokenBatch, 0, len(deadlines))
	for number, deadline := range deadlines {
		batches = append(batches, model.TokenBatch{RequestNumber: number, Deadline: deadline})
	}
	sort.Slice(batches, func(i, j int) bool { return batches[i].RequestNumber < batches[j].RequestNumber })
	return batches, nil
}

func (s *memStore) PollJobPost(_ context.Context, job model.PollJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrAlreadyExists
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *memStore) PollJobPut(_ context.Context, job model.PollJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return ErrNoRows
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *memStore) PollJobGetPending(_ context.Context) ([]model.PollJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []model.PollJob
	for _, j := range s.jobs {
		if j.Status == model.PollJobPending {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].NextPollAt.Before(jobs[j].NextPollAt) })
	return jobs, nil
}

func (s *memStore) PollJobGetByRequest(_ context.Context, requestNumber string) ([]model.PollJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var jobs []model.PollJob
	for _, j := range s.jobs {
		if j.RequestNumber == requestNumber {
			jobs = append(jobs, j)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs, nil
}
