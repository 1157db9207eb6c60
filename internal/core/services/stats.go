package services

import "aivision/internal/core/domain"

type nopStats struct{}

func (nopStats) RecordFrameSent(int)                          {}
func (nopStats) RecordFrameDropped(string)                    {}
func (nopStats) RecordResultApplied(float64, float64)         {}
func (nopStats) RecordResultStale()                           {}
func (nopStats) RecordProtocolError(string)                   {}
func (nopStats) RecordCommand(string, bool)                   {}
func (nopStats) RecordConnectionState(domain.ConnectionState) {}
func (nopStats) RecordReconnectAttempt()                      {}
