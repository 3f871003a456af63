package sqlinline

const QSelectIntegrationToken = `--sql 1f881377-0fa1-432d-892f-7dc53e241f42
select token
from integration_tokens
where provider = $1::text;
`

const QUpsertIntegrationToken = `--sql 60b38260-50d2-4e6f-985b-64deacddc42e
insert into integration_tokens(provider, token, properties, updated_at)
values ($1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now())
on conflict (provider)
do update set token = excluded.token, properties = excluded.properties, updated_at = now();
`
