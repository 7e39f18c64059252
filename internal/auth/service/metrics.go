package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustcore_auth_login_attempts_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})

	lockouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustcore_auth_lockouts_total",
		Help: "Subjects locked after repeated login failures",
	})

	tokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustcore_auth_token_validations_total",
		Help: "Access token validations by result",
	}, []string{"result"})

	revocations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustcore_auth_revocations_total",
		Help: "Tokens added to the revocation list",
	})
)
