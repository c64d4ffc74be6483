/*
Copyright 2024 Corrit Electric Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/corrit-electric/autopay"
	"github.com/corrit-electric/autopay/api/middleware"
	"github.com/corrit-electric/autopay/config"
)

type Api struct {
	autopay *autopay.Autopay
	router  *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/mandates", a.CreateMandate)
	router.GET("/mandates", a.GetAllMandates)
	router.GET("/mandates/stats", a.GetMandateStats)
	router.GET("/mandates/:id", a.GetMandate)
	router.POST("/mandates/:id/cancel", a.CancelMandate)
	router.GET("/mandates/:id/debits", a.GetMandateDebits)

	router.POST("/debits/:id/retry", a.RetryDebit)
	router.GET("/debits/:id", a.GetDebitAttempt)

	router.POST("/callbacks/gateway", a.GatewayCallback)

	router.GET("/forecast", a.GetForecast)
	return a.router
}

func NewAPI(a *autopay.Autopay) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{autopay: a, router: r}
}
