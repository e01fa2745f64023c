// Package gorm provides a GORM-based CredentialStore. It supports any
// database that GORM supports (PostgreSQL, MySQL, SQLite, etc.).
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - identities: one row per email with the is_active/is_verified/is_shadow flags
//   - identity_provider_links: federated links, unique per (provider, provider_user_id)
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
//	_ = gormstore.AutoMigrate(db)
//	store := gormstore.NewCredentialStore(db)
package gorm
