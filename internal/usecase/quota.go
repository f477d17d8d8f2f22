package usecase

import (
	"sync"

	"MachineryNews/internal/config"
	"MachineryNews/internal/domain"
)

// quotaGate hands out per-language slots. A slot is held while its article
// is in flight and kept only when the article is accepted.
type quotaGate struct {
	mu       sync.Mutex
	cond     *sync.Cond
	limits   config.LimitsConfig
	accepted map[domain.Language]int
	inFlight map[domain.Language]int
}

func newQuotaGate(limits config.LimitsConfig) *quotaGate {
	q := &quotaGate{
		limits:   limits,
		accepted: map[domain.Language]int{},
		inFlight: map[domain.Language]int{},
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// acquire blocks while every open slot of lang is in flight. It reports false
// once accepted articles fill the quota.
func (q *quotaGate) acquire(lang domain.Language) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	quota := q.limits.Quota(lang)
	for {
		if quota <= 0 || q.accepted[lang]+q.inFlight[lang] < quota {
			q.inFlight[lang]++
			return true
		}
		if q.accepted[lang] >= quota {
			return false
		}
		q.cond.Wait()
	}
}

func (q *quotaGate) release(lang domain.Language, accepted bool) {
	q.mu.Lock()
	q.inFlight[lang]--
	if accepted {
		q.accepted[lang]++
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}
