//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package metrics provides internal runtime counters for the reactor
// pool, useful for performance tuning. It is not a user-facing feature:
// there is no exporter or HTTP endpoint, only in-process counters.
package metrics

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// All metrics definitions.
const (
	// Poller metrics.
	EpollWait = iota
	EpollNoWait
	EpollEvents

	// Timer metrics.
	TimerRearm
	TimerFire
	TimerCancel

	// Connection metrics.
	ConnsCreate
	ConnsClose
	ConnBytesRead
	ConnBytesWritten
	ConnHighWaterMarkHit

	// Task pool metrics.
	TaskAssigned
	Max
)

var metricsArr [Max]atomic.Uint64

// Add metrics counter.
func Add(name int, delta uint64) {
	if name >= Max {
		return
	}
	metricsArr[name].Add(delta)
}

// Get one metric counter.
func Get(name int) uint64 {
	if name >= Max {
		return 0
	}
	return metricsArr[name].Load()
}

// GetAll get all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metricsArr {
		m[i] = metricsArr[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then prints metrics info.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	latest := GetAll()
	var m [Max]uint64
	for i := range metricsArr {
		m[i] = latest[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics shows metric info in console.
func ShowMetrics() {
	showAll(GetAll())
}

func showAll(m [Max]uint64) {
	fmt.Println("######### reactor metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	showPollerMetrics(m)
	showTimerMetrics(m)
	showConnMetrics(m)
	fmt.Printf("%-59s: %d\n", "# number of tasks submitted (Submit)", m[TaskAssigned])
	fmt.Printf("\n")
}

func showPollerMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# POLLER - number of epoll_wait returns", m[EpollWait])
	fmt.Printf("%-59s: %d\n", "# POLLER - number of epoll_wait called with msec=0", m[EpollNoWait])
	fmt.Printf("%-59s: %d\n", "# POLLER - number of total events", m[EpollEvents])
	if m[EpollWait] > 0 {
		fmt.Printf("%-59s: %.2f%%\n", "# POLLER - no-wait ratio", float32(m[EpollNoWait])*100/float32(m[EpollWait]))
		fmt.Printf("%-59s: %.2f\n", "# POLLER - average events per wait",
			float32(m[EpollEvents])/float32(m[EpollWait]))
	}
}

func showTimerMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# TIMER - number of rearms", m[TimerRearm])
	fmt.Printf("%-59s: %d\n", "# TIMER - number of fires", m[TimerFire])
	fmt.Printf("%-59s: %d\n", "# TIMER - number of cancels", m[TimerCancel])
}

func showConnMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# CONN - number of connections created", m[ConnsCreate])
	fmt.Printf("%-59s: %d\n", "# CONN - number of connections closed", m[ConnsClose])
	fmt.Printf("%-59s: %d\n", "# CONN - bytes read", m[ConnBytesRead])
	fmt.Printf("%-59s: %d\n", "# CONN - bytes written", m[ConnBytesWritten])
	fmt.Printf("%-59s: %d\n", "# CONN - high water mark crossings", m[ConnHighWaterMarkHit])
}
