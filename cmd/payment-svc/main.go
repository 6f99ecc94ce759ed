package main

import (
	"github.com/ivmironov/order-saga/internal/app/paymentapp"
	"github.com/ivmironov/order-saga/internal/config"
)

func main() {
	config.MustInit("payment-svc")
	paymentapp.MustNewApp().Run()
}
