package sqlinline

const QInsertUsageEvent = `--sql 05e8f88c-3269-4772-8e6c-c547277ab67f
insert into usage_events(id, user_id, job_id, event_type, success, created_at, properties)
values (gen_random_uuid(), $1::uuid, $2::uuid, $3::text, $4::boolean, now(), coalesce($5::jsonb, '{}'::jsonb));
`
