package main

import (
	"github.com/ivmironov/order-saga/internal/app/orderapp"
	"github.com/ivmironov/order-saga/internal/config"
)

func main() {
	config.MustInit("order-svc")
	orderapp.MustNewApp().Run()
}
