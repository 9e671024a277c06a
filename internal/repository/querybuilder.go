package repository

import sq "github.com/Masterminds/squirrel"

// psql はPostgreSQLのプレースホルダ（$1, $2, ...）を使うクエリビルダー。
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
