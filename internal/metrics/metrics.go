// Package metrics 进程级计数器，经 /debug/vars 暴露
package metrics

import "expvar"

var (
	ActionsDispatched = expvar.NewInt("actions_dispatched")
	ActionFailures    = expvar.NewInt("action_failures")
	OrdersPlaced      = expvar.NewInt("orders_placed")
	OrdersAmbiguous   = expvar.NewInt("orders_ambiguous")
	OrdersConfirmed   = expvar.NewInt("orders_confirmed")
	PositionsClosed   = expvar.NewInt("positions_closed")
	CooldownsEntered  = expvar.NewInt("cooldowns_entered")
	ReplenishOrders   = expvar.NewInt("replenish_orders")
	TickerUpdates     = expvar.NewInt("ticker_updates")
	WorkersRunning    = expvar.NewInt("workers_running")
)
