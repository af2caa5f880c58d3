// Package scheduler runs periodic in-process jobs.
//
// Jobs are registered with a Schedule (EveryInterval, HourlyAt, DailyAt) and
// executed sequentially by Start until its context is canceled. When several
// replicas run the same scheduler, WithLocker and a RedisLocker make sure a
// job executes on only one of them per run:
//
//	s := scheduler.New(
//		scheduler.WithLogger(log),
//		scheduler.WithLocker(scheduler.NewRedisLocker(rdb, "billing:")),
//	)
//	_ = s.AddJob("expire-subscriptions", scheduler.DailyAt(3, 0), sweep)
//	err := s.Start(ctx)
//
// The lock key carries the schedule slot (for DailyAt, the day's run time)
// and is kept until it expires after a successful run, so a replica whose
// ticker reaches the same slot later skips it. A failed run frees its slot.
//
// RunNow executes a job immediately, still honoring its lock.
package scheduler
