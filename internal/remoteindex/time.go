package remoteindex

import "time"

func timeFromEpoch(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func epochFromTime(t time.Time) int64 { return t.Unix() }
